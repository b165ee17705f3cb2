package common

import "fmt"

// StoreErrType enumerates the lookup failures of the backing stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a point lookup misses.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when a write would overwrite a record that
	// must be unique.
	KeyAlreadyExists
	// Empty is returned when iterating a prefix that holds no records.
	Empty
	// Closed is returned when the store has already been closed.
	Closed
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case Closed:
		m = "Closed"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
