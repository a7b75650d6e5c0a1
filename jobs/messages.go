package jobs

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Notification message keys. Translations live in notifyCatalog.
const (
	msgNewTitle        = "New solicitud"
	msgCreatedIn       = "Solicitud %q registered in %s"
	msgCreated         = "Solicitud %q registered"
	msgTransitionTitle = "Solicitud %s"
	msgTransition      = "Solicitud %q moved from %s to %s"
)

var notifyCatalog = newNotifyCatalog()

func newNotifyCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.Spanish))
	for key, translations := range map[string]map[language.Tag]string{
		msgNewTitle: {
			language.Spanish: "Nueva solicitud",
			language.English: "New request",
		},
		msgCreatedIn: {
			language.Spanish: "Se registró la solicitud %q en %s",
			language.English: "Request %q was registered at %s",
		},
		msgCreated: {
			language.Spanish: "Se registró la solicitud %q",
			language.English: "Request %q was registered",
		},
		msgTransitionTitle: {
			language.Spanish: "Solicitud %s",
			language.English: "Request %s",
		},
		msgTransition: {
			language.Spanish: "La solicitud %q pasó de %s a %s",
			language.English: "Request %q moved from %s to %s",
		},
	} {
		for tag, text := range translations {
			if err := b.SetString(tag, key, text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

func newNotifyPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(notifyCatalog))
}
