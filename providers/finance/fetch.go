package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/models"
	"case-forge/providers"
)

const providerName = "fmp"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Profile ist ein Eintrag der FMP-Profil-API.
type Profile struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	Price       float64 `json:"price"`
	Changes     float64 `json:"changes"`
	Currency    string  `json:"currency"`
	MktCap      float64 `json:"mktCap"`
	Exchange    string  `json:"exchangeShortName"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	Description string  `json:"description"`
	Website     string  `json:"website"`
}

// Fetcher liefert eine Kurs-/Profilzusammenfassung zu einem Ticker.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Finanzdaten-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return providerName
}

// Applicable: nur mit Schlüssel und explizitem Ticker. Der Ticker wird nie geraten.
func (f *Fetcher) Applicable(q providers.Query) bool {
	return f.Config.FMPKey != "" && strings.TrimSpace(q.Ticker) != ""
}

// Fetch lädt das Profil zum Ticker.
func (f *Fetcher) Fetch(ctx context.Context, q providers.Query) providers.Result {
	var res providers.Result
	ticker := strings.ToUpper(strings.TrimSpace(q.Ticker))
	if ticker == "" || f.Config.FMPKey == "" {
		return res
	}
	log := f.Logger.With(zap.String("provider", providerName), zap.String("ticker", ticker))
	res.QueriesTried = 1

	profile, err := f.fetchProfile(ctx, ticker)
	if err != nil {
		log.Warn("FMP-Abruf fehlgeschlagen", zap.Error(err))
		return res
	}
	if profile == nil {
		log.Debug("Kein Profil zum Ticker gefunden.")
		return res
	}
	res.Items = []models.SourceItem{f.toSourceItem(*profile)}
	log.Info("Finanzprofil geladen", zap.Float64("price", profile.Price))
	return res
}

func (f *Fetcher) fetchProfile(ctx context.Context, ticker string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v3/profile/%s?apikey=%s", f.Config.FMPBaseURL, url.PathEscape(ticker), url.QueryEscape(f.Config.FMPKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	var profiles []Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

func (f *Fetcher) toSourceItem(p Profile) models.SourceItem {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) last traded at %.2f %s (change %+.2f).", p.CompanyName, p.Symbol, p.Price, p.Currency, p.Changes)
	if p.MktCap > 0 {
		fmt.Fprintf(&b, " Market cap: %.0f %s.", p.MktCap, p.Currency)
	}
	if p.Exchange != "" {
		fmt.Fprintf(&b, " Exchange: %s.", p.Exchange)
	}
	if p.Sector != "" || p.Industry != "" {
		fmt.Fprintf(&b, " Sector: %s / %s.", p.Sector, p.Industry)
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString(" ")
		b.WriteString(d)
	}
	snippet, _ := providers.Truncate(b.String(), f.Config.SnippetMaxChars)

	return models.SourceItem{
		Type:     models.SourceTypeFinance,
		Provider: providerName,
		URL:      fmt.Sprintf("https://financialmodelingprep.com/financial-summary/%s", p.Symbol),
		Title:    fmt.Sprintf("%s (%s) market profile", p.CompanyName, p.Symbol),
		Snippet:  snippet,
		Extra: &models.SourceExtra{
			Kind: models.ExtraKindFinance,
			Finance: &models.FinanceExtra{
				Symbol:    p.Symbol,
				Price:     p.Price,
				Currency:  p.Currency,
				Change:    p.Changes,
				MarketCap: p.MktCap,
				Exchange:  p.Exchange,
				Sector:    p.Sector,
				Industry:  p.Industry,
			},
		},
	}
}
