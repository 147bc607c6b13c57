package utils

// Ptr returns a pointer to the given value. Useful for building patch
// structs whose optional fields are pointers.
func Ptr[Value any](value Value) *Value {
	return &value
}
