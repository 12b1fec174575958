package dberror

import "fmt"

const (
	SQLRING_UNEXPECTED        = "SQLRU"
	SQLRING_PARAMETER_NOT_SET = "SQLRP"
	SQLRING_CONNECTION_BROKEN = "SQLRB"
	SQLRING_SESSION_CLOSED    = "SQLRS"
	SQLRING_PROTOCOL          = "SQLRW"
	SQLRING_NO_LIVE_SEED      = "SQLRD"
	SQLRING_CANCELED          = "SQLRC"
	SQLRING_NO_LIVE_REPLICA   = "SQLRL"
)

var existingErrorCodeMap = map[string]string{
	SQLRING_PARAMETER_NOT_SET: "ParameterNotSet",
	SQLRING_CONNECTION_BROKEN: "ConnectionBroken",
	SQLRING_SESSION_CLOSED:    "SessionClosed",
	SQLRING_PROTOCOL:          "ProtocolViolation",
	SQLRING_NO_LIVE_SEED:      "NoLiveSeedEndpoint",
	SQLRING_CANCELED:          "StatementCanceled",
	SQLRING_NO_LIVE_REPLICA:   "NoLiveReplica",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &Error{}

type Error struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *Error {
	return &Error{
		Err:       fmt.Errorf("%s", errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, args ...interface{}) *Error {
	return &Error{
		Err:       fmt.Errorf(format, args...),
		ErrorCode: errorCode,
	}
}

// ParameterNotSet reports an unbound parameter by its 1-based index.
func ParameterNotSet(index int) *Error {
	return Newf(SQLRING_PARAMETER_NOT_SET, "parameter #%d is not set", index+1)
}

func (er *Error) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

func (er *Error) Unwrap() error {
	return er.Err
}

// Convert collapses an arbitrary error into *Error. Every failure crossing a
// router boundary leaves through here.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}
	if dbe, ok := err.(*Error); ok {
		return dbe
	}
	return &Error{
		Err:       err,
		ErrorCode: SQLRING_UNEXPECTED,
	}
}
