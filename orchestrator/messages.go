package orchestrator

import (
	"errors"

	"tryonapi/languageutil"
	"tryonapi/models"
)

const (
	opSubject = "subject"
	opGarment = "garment"
)

const (
	reasonMissingImage      = "missing_image"
	reasonInvalidDimensions = "invalid_dimensions"
	reasonTooLargeToDecode  = "image_too_large_to_decode"
	reasonDailyLimit        = "daily_limit_reached"
	reasonFreeRetryUsed     = "free_retry_used"
	reasonResultNotFound    = "result_not_found"
	reasonCandidateRange    = "candidate_out_of_range"
	reasonAlreadyCommitted  = "result_already_committed"
	reasonAttemptInProgress = "attempt_in_progress"
)

// Failure is what the UI shows for a failed attempt.
type Failure struct {
	Kind    models.ErrorKind
	Title   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func roleKey(op string) languageutil.MessageKey {
	if op == opGarment {
		return languageutil.RoleGarment
	}
	return languageutil.RoleSubject
}

// NewFailure maps err to a localized title and message.
func NewFailure(lang models.Language, err error) *Failure {
	tryOnErr := models.AsTryOnError(err)
	t := func(key languageutil.MessageKey, args ...any) string {
		return languageutil.Translate(lang, key, args...)
	}
	failure := &Failure{Kind: tryOnErr.Kind, Err: err, Title: t(languageutil.TitleError), Message: t(languageutil.MsgUnknown)}

	switch tryOnErr.Kind {
	case models.KindInvalidInput:
		switch tryOnErr.Message {
		case reasonMissingImage:
			failure.Title = t(languageutil.TitleMissingImages)
			if tryOnErr.Op == opGarment {
				failure.Message = t(languageutil.MsgMissingGarment)
			} else {
				failure.Message = t(languageutil.MsgMissingSubject)
			}
		case reasonInvalidDimensions:
			failure.Title = t(languageutil.TitleImageError)
			failure.Message = t(languageutil.MsgInvalidDimensions, t(roleKey(tryOnErr.Op)))
		case reasonTooLargeToDecode:
			failure.Title = t(languageutil.TitleImageError)
			failure.Message = t(languageutil.MsgImageTooLarge, t(roleKey(tryOnErr.Op)))
		case reasonResultNotFound, reasonAlreadyCommitted:
			failure.Message = t(languageutil.MsgResultNotFound)
		case reasonCandidateRange:
			failure.Message = t(languageutil.MsgCandidateOutOfRange)
		}
	case models.KindEncodingFailure:
		failure.Title = t(languageutil.TitleImageError)
		if tryOnErr.Op == opGarment {
			failure.Message = t(languageutil.MsgGarmentEncoding)
		} else {
			failure.Message = t(languageutil.MsgSubjectEncoding)
		}
	case models.KindUpstreamUnavailable:
		if tryOnErr.StatusCode > 0 {
			failure.Title = t(languageutil.TitleServerError, tryOnErr.StatusCode)
			failure.Message = t(languageutil.MsgServerError, tryOnErr.Message)
		} else {
			failure.Title = t(languageutil.TitleNetworkError)
			failure.Message = t(languageutil.MsgNetworkError)
		}
	case models.KindUpstreamTimeout:
		failure.Title = t(languageutil.TitleTimeout)
		failure.Message = t(languageutil.MsgTimeout)
	case models.KindUpstreamDecodeFailure:
		failure.Title = t(languageutil.TitleProcessingError)
		failure.Message = t(languageutil.MsgInvalidResponse)
	case models.KindQuotaExceeded:
		if tryOnErr.Message == reasonFreeRetryUsed {
			failure.Message = t(languageutil.MsgFreeRetryExhausted)
		} else {
			failure.Title = t(languageutil.TitleLimitReached)
			failure.Message = t(languageutil.MsgLimitReached)
		}
	}
	return failure
}

func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	ok := errors.As(err, &failure)
	return failure, ok
}
