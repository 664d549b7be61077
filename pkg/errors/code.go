package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Catalog errors (activities, problems, test cases)
// 13000-13999: Submission & Grading errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Queue errors (10400-10499)
	QueuePublishFailed ErrorCode = 10400
	QueueConsumeFailed ErrorCode = 10401

	// Storage errors (10500-10599)
	StorageError ErrorCode = 10500

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Catalog Errors (12000-12999) ==========

	ActivityNotFound ErrorCode = 12000
	ProblemNotFound  ErrorCode = 12100
	TestCaseNotFound ErrorCode = 12200

	// ========== Submission & Grading Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	SubmitTooFrequently    ErrorCode = 13004
	DeadlinePassed         ErrorCode = 13006
	SubmissionAccessDenied ErrorCode = 13007

	// Judge (13100-13199)
	JudgeUnavailable ErrorCode = 13100
	JudgeBadResponse ErrorCode = 13101

	// Corrections (13200-13299)
	CorrectionCreateFailed ErrorCode = 13200
	CorrectionUpdateFailed ErrorCode = 13201
	TokenMismatch          ErrorCode = 13202
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	QueuePublishFailed: "Failed to publish job",
	QueueConsumeFailed: "Failed to consume job",

	StorageError: "Object storage operation failed",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	ActivityNotFound: "Activity not found",
	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Problem has no test cases",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	DeadlinePassed:         "The activity due date has passed",
	SubmissionAccessDenied: "Access to this submission is denied",

	JudgeUnavailable: "Judge service unavailable",
	JudgeBadResponse: "Judge service returned an unexpected response",

	CorrectionCreateFailed: "Failed to create corrections",
	CorrectionUpdateFailed: "Failed to update correction",
	TokenMismatch:          "Judge returned an unknown token",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return http.StatusUnauthorized
	case c == Forbidden, c == SubmissionAccessDenied:
		return http.StatusForbidden
	case c == NotFound, c == ActivityNotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return http.StatusNotFound
	case c == DeadlinePassed:
		return http.StatusUnprocessableEntity
	case c == TooManyRequests, c == SubmitTooFrequently:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == JudgeUnavailable:
		return http.StatusServiceUnavailable
	case c == JudgeBadResponse:
		return http.StatusBadGateway
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLarge:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
