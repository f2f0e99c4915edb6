package languageutil

import (
	"testing"

	"tryonapi/models"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	assert.Equal(t, "Server Error (502)", Translate(models.EN, TitleServerError, 502))
	assert.Equal(t, "Serverfehler (502)", Translate(models.DE, TitleServerError, 502))
	assert.Equal(t, "Request Timed Out", Translate(models.Language("fr"), TitleTimeout))
}

func TestCatalogsHaveSameKeys(t *testing.T) {
	var reference map[MessageKey]string
	for _, messages := range catalog {
		if reference == nil {
			reference = messages
			continue
		}
		assert.Len(t, messages, len(reference))
		for key := range reference {
			assert.Contains(t, messages, key)
		}
	}
}
