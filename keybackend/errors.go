package keybackend

import "github.com/sagarc03/anystore"

// ErrKeyNotFound is returned when the access key does not exist in the store.
var ErrKeyNotFound = anystore.NewError(anystore.KindPermissionDenied, "access key not found")
