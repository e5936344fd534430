package osmdoc

import "fmt"

// MalformedDocumentError is returned when an element appears where the
// document structure does not allow it. It aborts the current document.
type MalformedDocumentError struct {
	Element string
	Context string
	Line    int
	Column  int
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed document: unexpected <%s> in %s at line %d, column %d",
		e.Element, e.Context, e.Line, e.Column)
}
