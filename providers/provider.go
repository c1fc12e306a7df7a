package providers

import (
	"context"
	"time"

	"case-forge/models"
)

// Query ist die gemeinsame Eingabe aller Connectors. Sie wird einmal pro Anreicherung gebaut.
type Query struct {
	Topic          string
	Ticker         string
	Summary        string
	RequiredTokens []string
	From           *time.Time
	To             *time.Time
}

// Result ist das Ergebnis eines Connector-Aufrufs.
type Result struct {
	Items        []models.SourceItem
	QueriesTried int
	Relaxed      bool
	Cached       bool
}

// Connector ist das Interface, das jede externe Quelle (Wikipedia, News, Finanzdaten) implementieren muss.
// Fetch liefert nie einen Fehler: Netzwerkfehler, Timeouts und fehlende Schlüssel ergeben ein leeres Ergebnis.
type Connector interface {
	// Name gibt den eindeutigen Namen des Connectors zurück (z.B. "wikipedia").
	Name() string

	// Applicable meldet, ob der Connector für die Anfrage aufgerufen werden soll.
	Applicable(q Query) bool

	// Fetch ruft die Quelle ab.
	Fetch(ctx context.Context, q Query) Result
}
