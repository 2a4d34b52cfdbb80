// Package anystore provides one data-access API over many storage backends:
// object stores, local filesystems, key-value databases and memory.
//
// Backends implement the Accessor contract. Cross-cutting behavior such as
// retries, concurrency limits, logging, metrics and tracing is added by
// Layers that wrap an Accessor and satisfy the same contract. Applications
// talk to an Operator, which normalizes paths, checks the accessor's
// Capability before dispatching, and offers streaming Reader, Writer and
// Lister handles.
//
// # Key Components
//
//   - Accessor: the backend contract, one method per Operation
//   - Capability: the features and limits an accessor declares
//   - Error: a closed set of ErrorKinds plus retryability and the native cause
//   - Layer and Stack: composable accessor wrappers, see package layers
//   - Operator: the facade applications use
//   - ObjectReader, ObjectWriter, Lister: streaming handles
//   - Signer and Verifier: AWS Signature V4 presigned URLs for backends
//     served through the gateway package
//
// # Paths
//
// Paths are slash separated and relative to the accessor root. The Operator
// normalizes them once: "a//b/../c" becomes "a/c". Directories end with
// "/", and the root is the empty path.
//
// # Example Usage
//
//	acc := memory.New(memory.Config{})
//	op := anystore.NewOperator(acc,
//	    layers.NewRetryLayer(layers.WithMaxAttempts(3)),
//	    layers.NewConcurrentLimitLayer(16),
//	)
//
//	if _, err := op.Write(ctx, "reports/2024.csv", data); err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := op.Reader(ctx, "reports/2024.csv", anystore.ReadOptions{
//	    Range: anystore.RangeOf(0, 1024),
//	})
//
// See the services packages for backends and the config package for
// building layered operators from configuration files.
package anystore
