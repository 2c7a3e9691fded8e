package authclient

import (
	"encoding/json"
	"net/http"
)

// statusOK reports the HTTP-level success signal. A 2xx status alone never implies success.
func statusOK(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// challengeRequired reports the body-level signal that an OTP challenge was issued.
func challengeRequired(body loginResponse) bool {
	return body.RequiresOTP
}

// challengeIssued combines both signals; both must hold.
func challengeIssued(code int, body loginResponse) bool {
	return statusOK(code) && challengeRequired(body)
}

// otpDispatched combines the HTTP status and the body status for request-otp.
func otpDispatched(code int, body requestOTPResponse) bool {
	return statusOK(code) && statusSuccess(body.Status)
}

// statusSuccess reports whether raw is the JSON string "success". Numbers, null and absence are not.
func statusSuccess(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == "success"
}
