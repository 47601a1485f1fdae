package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DeliveryError wraps a transport failure with permanence
// information. Permanent errors (SMTP 5xx) will never succeed on
// retry; everything else is assumed transient.
type DeliveryError struct {
	Permanent bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError classifies a transport failure by SMTP reply code.
// 5xx replies are permanent, 4xx and everything without a code are
// transient.
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s: %v", stage, err)

	matches := smtpCodePattern.FindStringSubmatch(err.Error())
	if len(matches) > 1 && strings.HasPrefix(matches[1], "5") {
		return &DeliveryError{Permanent: true, Message: msg}
	}

	return &DeliveryError{Permanent: false, Message: msg}
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}
