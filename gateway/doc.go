// Package gateway serves an anystore.Operator over HTTP.
//
// Objects map to URL paths: GET and HEAD read, PUT writes and DELETE
// removes. Paths ending in "/" are directories; PUT creates one, DELETE
// with ?recursive=true removes it with everything below.
//
// # Authentication
//
// Reads and writes each take an optional RequestVerifier. SignatureVerifier
// accepts presigned URLs produced by anystore.Signer (AWS Signature V4,
// which is also what the fs and memory services hand out from Presign when
// configured with a presign endpoint) and by the stowry-go client:
//
//	store, _ := keybackend.NewSecretStore(keysCfg)
//	verifier := gateway.NewSignatureVerifier("us-east-1", "s3", store)
//
//	h := gateway.NewHandler(&gateway.HandlerConfig{
//	    ReadVerifier:  nil,      // public reads
//	    WriteVerifier: verifier, // signed writes
//	}, op)
//	http.ListenAndServe(":5708", h.Router())
//
// # Modes
//
// In ModeStore a GET on a directory returns a JSON ListResult, paginated
// with the limit and cursor query parameters. ModeStatic serves
// dir/index.html instead, and ModeSPA additionally answers unknown paths
// with /index.html for client side routing.
//
// # Errors
//
// Failures are JSON ErrorResponse bodies whose status follows the error
// kind: NotFound is 404, ConditionNotMatch and AlreadyExists are 412,
// Unsupported is 501, RateLimited is 429 and temporary failures are 503.
package gateway
