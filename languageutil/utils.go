package languageutil

import (
	"tryonapi/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var TitleCaser = cases.Title(language.English)

// MessageKey identifies a user-facing string in the catalog.
type MessageKey string

const (
	TitleMissingImages     MessageKey = "title.missing_images"
	TitleImageError        MessageKey = "title.image_error"
	TitleServerError       MessageKey = "title.server_error"
	TitleNetworkError      MessageKey = "title.network_error"
	TitleTimeout           MessageKey = "title.timeout"
	TitleProcessingError   MessageKey = "title.processing_error"
	TitleLimitReached      MessageKey = "title.limit_reached"
	TitleError             MessageKey = "title.error"
	MsgMissingSubject      MessageKey = "msg.missing_subject"
	MsgMissingGarment      MessageKey = "msg.missing_garment"
	MsgInvalidDimensions   MessageKey = "msg.invalid_dimensions"
	MsgImageTooLarge       MessageKey = "msg.image_too_large"
	MsgSubjectEncoding     MessageKey = "msg.subject_encoding"
	MsgGarmentEncoding     MessageKey = "msg.garment_encoding"
	MsgServerError         MessageKey = "msg.server_error"
	MsgNetworkError        MessageKey = "msg.network_error"
	MsgTimeout             MessageKey = "msg.timeout"
	MsgInvalidResponse     MessageKey = "msg.invalid_response"
	MsgLimitReached        MessageKey = "msg.limit_reached"
	MsgFreeRetryExhausted  MessageKey = "msg.free_retry_exhausted"
	MsgUnknown             MessageKey = "msg.unknown"
	MsgResultNotFound      MessageKey = "msg.result_not_found"
	MsgCandidateOutOfRange MessageKey = "msg.candidate_out_of_range"
	RoleSubject            MessageKey = "role.subject"
	RoleGarment            MessageKey = "role.garment"
)

var catalog = map[language.Tag]map[MessageKey]string{
	language.English: {
		TitleMissingImages:     "Missing Images",
		TitleImageError:        "Image Error",
		TitleServerError:       "Server Error (%d)",
		TitleNetworkError:      "Network Error",
		TitleTimeout:           "Request Timed Out",
		TitleProcessingError:   "Processing Error",
		TitleLimitReached:      "Daily Limit Reached",
		TitleError:             "Error",
		MsgMissingSubject:      "Please select a photo of yourself.",
		MsgMissingGarment:      "Please select a clothing item.",
		MsgInvalidDimensions:   "The %s could not be read. Please choose another one.",
		MsgImageTooLarge:       "The %s is too large to process. Please choose a smaller one.",
		MsgSubjectEncoding:     "Your photo could not be prepared for upload. Please try a different photo.",
		MsgGarmentEncoding:     "The clothing image could not be prepared for upload. Please try a different image.",
		MsgServerError:         "The server could not generate your try-on: %s",
		MsgNetworkError:        "Could not communicate with the server. Please check your connection.",
		MsgTimeout:             "Generating your try-on took too long. Please try again.",
		MsgInvalidResponse:     "The server returned an invalid response. Please try again.",
		MsgLimitReached:        "You have used all free try-ons for today. Upgrade to continue.",
		MsgFreeRetryExhausted:  "The free retry for this result has already been used.",
		MsgUnknown:             "Something went wrong. Please try again.",
		MsgResultNotFound:      "This result is no longer available.",
		MsgCandidateOutOfRange: "Please choose one of the generated images.",
		RoleSubject:            "photo of you",
		RoleGarment:            "clothing image",
	},
	language.German: {
		TitleMissingImages:     "Bilder fehlen",
		TitleImageError:        "Bildfehler",
		TitleServerError:       "Serverfehler (%d)",
		TitleNetworkError:      "Netzwerkfehler",
		TitleTimeout:           "Zeitüberschreitung",
		TitleProcessingError:   "Verarbeitungsfehler",
		TitleLimitReached:      "Tageslimit erreicht",
		TitleError:             "Fehler",
		MsgMissingSubject:      "Bitte wähle ein Foto von dir aus.",
		MsgMissingGarment:      "Bitte wähle ein Kleidungsstück aus.",
		MsgInvalidDimensions:   "%s konnte nicht gelesen werden. Bitte wähle ein anderes.",
		MsgImageTooLarge:       "%s ist zu groß. Bitte wähle ein kleineres.",
		MsgSubjectEncoding:     "Dein Foto konnte nicht für den Upload vorbereitet werden. Bitte versuche ein anderes Foto.",
		MsgGarmentEncoding:     "Das Kleidungsbild konnte nicht für den Upload vorbereitet werden. Bitte versuche ein anderes Bild.",
		MsgServerError:         "Der Server konnte dein Bild nicht erzeugen: %s",
		MsgNetworkError:        "Keine Verbindung zum Server. Bitte prüfe deine Internetverbindung.",
		MsgTimeout:             "Die Erstellung hat zu lange gedauert. Bitte versuche es erneut.",
		MsgInvalidResponse:     "Der Server hat eine ungültige Antwort geliefert. Bitte versuche es erneut.",
		MsgLimitReached:        "Du hast alle kostenlosen Versuche für heute verbraucht.",
		MsgFreeRetryExhausted:  "Der kostenlose erneute Versuch für dieses Ergebnis wurde bereits genutzt.",
		MsgUnknown:             "Etwas ist schiefgelaufen. Bitte versuche es erneut.",
		MsgResultNotFound:      "Dieses Ergebnis ist nicht mehr verfügbar.",
		MsgCandidateOutOfRange: "Bitte wähle eines der erzeugten Bilder.",
		RoleSubject:            "Dein Foto",
		RoleGarment:            "Das Kleidungsbild",
	},
}

func init() {
	for tag, messages := range catalog {
		for key, text := range messages {
			if err := message.SetString(tag, string(key), text); err != nil {
				panic(err)
			}
		}
	}
}

func tagFor(lang models.Language) language.Tag {
	if lang == models.DE {
		return language.German
	}
	return language.English
}

// Translate formats key in lang, falling back to English.
func Translate(lang models.Language, key MessageKey, args ...any) string {
	return message.NewPrinter(tagFor(lang)).Sprintf(string(key), args...)
}
