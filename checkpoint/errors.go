package checkpoint

import "fmt"

// ParseError reports malformed checkpoint input. Line is 1-based.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("checkpoint parse error on line %d: %s", e.Line, e.Message)
}
