package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	cardex "github.com/cardexio/cardex"
	"github.com/cardexio/cardex/codec"
	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/matcher"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/observability"
	"github.com/cardexio/cardex/phash"
	"github.com/cardexio/cardex/price"
)

type handler struct {
	db        *cardex.Cardex
	embedder  embed.Embedder
	prices    *price.Client
	logger    *slog.Logger
	maxUpload int64
}

// matchJSON is one candidate in an API response, a store match optionally
// enriched with provider prices.
type matchJSON struct {
	model.Match
	Price *price.Price `json:"price,omitempty"`
}

type recognizeResponse struct {
	Candidates []matchJSON       `json:"candidates"`
	Attempted  []model.MatchKind `json:"attempted"`
	Degraded   bool              `json:"degraded"`
}

type identifyResponse struct {
	Match    matchJSON `json:"match"`
	Degraded bool      `json:"degraded"`
}

type addResponse struct {
	Card     model.Card `json:"card"`
	Indexed  bool       `json:"indexed"`
	Degraded bool       `json:"degraded"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"total_cards": stats.TotalCards,
		"index_size":  stats.IndexSize,
	})
}

func (h *handler) recognize(w http.ResponseWriter, r *http.Request) {
	q, opts, degraded, ok := h.queryFromUpload(w, r)
	if !ok {
		return
	}

	result, err := h.db.FindMatches(r.Context(), q, opts...)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, recognizeResponse{
		Candidates: h.enrich(r.Context(), result.Candidates),
		Attempted:  result.Attempted,
		Degraded:   degraded,
	})
}

func (h *handler) identify(w http.ResponseWriter, r *http.Request) {
	q, opts, degraded, ok := h.queryFromUpload(w, r)
	if !ok {
		return
	}

	result, err := h.db.FindMatches(r.Context(), q, append(opts, matcher.WithTopK(1))...)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if len(result.Candidates) == 0 {
		writeError(w, http.StatusNotFound, "no match above threshold")
		return
	}

	writeJSON(w, http.StatusOK, identifyResponse{
		Match:    h.enrich(r.Context(), result.Candidates[:1])[0],
		Degraded: degraded,
	})
}

// queryFromUpload reads the multipart image, hashes it, and embeds it when
// an embedder is configured. An unreachable embedder degrades the query to
// hash-only instead of failing. The bool return reports whether the
// response was already written.
func (h *handler) queryFromUpload(w http.ResponseWriter, r *http.Request) (matcher.Query, []matcher.Option, bool, bool) {
	data, ok := h.readImage(w, r)
	if !ok {
		return matcher.Query{}, nil, false, false
	}

	opts, err := matchOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return matcher.Query{}, nil, false, false
	}

	hash, err := phash.FromBytes(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image: %v", err))
		return matcher.Query{}, nil, false, false
	}
	q := matcher.Query{Hash: hashindex.FormatHash(hash)}

	degraded := false
	if h.embedder != nil {
		vec, err := h.embedder.Embed(r.Context(), data)
		switch {
		case err == nil:
			q.Embedding = vec
		case isUnavailable(err):
			degraded = true
			observability.DegradedQueriesTotal.Inc()
			h.logger.Warn("embedder unavailable, hash-only matching", slog.Any("error", err))
		default:
			writeError(w, http.StatusBadRequest, err.Error())
			return matcher.Query{}, nil, false, false
		}
	}

	return q, opts, degraded, true
}

// enrich attaches cached provider prices to candidates that carry a
// product id. Price failures degrade to a bare match, never an error.
func (h *handler) enrich(ctx context.Context, candidates []model.Match) []matchJSON {
	out := make([]matchJSON, len(candidates))
	for i, m := range candidates {
		out[i] = matchJSON{Match: m}
		if h.prices == nil || m.ExternalPriceID == "" {
			continue
		}
		p, err := h.prices.Lookup(ctx, m.ExternalPriceID)
		if err != nil {
			h.logger.Warn("price lookup failed",
				slog.String("card_id", m.ID),
				slog.String("product_id", m.ExternalPriceID),
				slog.Any("error", err),
			)
			continue
		}
		out[i].Price = &p
	}
	return out
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := intParam(r, "limit", 10)

	category := r.URL.Query().Get("category")
	if category != "" && !model.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid category %q", category))
		return
	}

	cards, err := h.db.SearchByName(r.Context(), q, category, limit)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if cards == nil {
		cards = []model.Card{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cards": cards,
		"count": len(cards),
	})
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price provider not configured")
		return
	}

	p, err := h.prices.Lookup(r.Context(), r.PathValue("productID"))
	if err != nil {
		writeError(w, priceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) databaseAdd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	card := model.Card{
		ID:              r.FormValue("id"),
		Name:            r.FormValue("name"),
		SetName:         r.FormValue("set_name"),
		Category:        r.FormValue("category"),
		ExternalPriceID: r.FormValue("external_price_id"),
		PerceptualHash:  r.FormValue("perceptual_hash"),
	}
	if card.Name == "" {
		writeError(w, http.StatusBadRequest, "missing card name")
		return
	}
	if card.Category == "" {
		writeError(w, http.StatusBadRequest, "missing card category")
		return
	}

	var image []byte
	if f, _, err := r.FormFile("image"); err == nil {
		image, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read image")
			return
		}
	}

	var embedding []float32
	degraded := false
	if len(image) > 0 {
		if card.PerceptualHash == "" {
			hash, err := phash.FromBytes(image)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image: %v", err))
				return
			}
			card.PerceptualHash = hashindex.FormatHash(hash)
		}
		if h.embedder != nil {
			vec, err := h.embedder.Embed(r.Context(), image)
			switch {
			case err == nil:
				embedding = vec
			case isUnavailable(err):
				degraded = true
				h.logger.Warn("embedder unavailable, card stored without embedding", slog.Any("error", err))
			default:
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	stored, err := h.db.AddCard(r.Context(), card, embedding)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	if len(image) > 0 {
		if _, err := h.db.StoreImage(r.Context(), stored.ID, image, imageContentType(image)); err != nil {
			// The card is registered; a missing image copy is recoverable.
			h.logger.Warn("failed to store card image", slog.String("card_id", stored.ID), slog.Any("error", err))
		} else if stored, err = h.db.GetCard(r.Context(), stored.ID); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, addResponse{
		Card:     stored,
		Indexed:  len(embedding) > 0,
		Degraded: degraded,
	})
}

func (h *handler) databaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// readImage extracts the uploaded "image" part, capped at the configured
// upload limit. The bool return reports success; on failure the response
// has been written.
func (h *handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return nil, false
	}

	f, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image upload")
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty image upload")
		return nil, false
	}
	return data, true
}

// matchOptions parses the tuning form values shared by recognize and
// identify.
func matchOptions(r *http.Request) ([]matcher.Option, error) {
	var opts []matcher.Option

	if v := r.FormValue("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k <= 0 {
			return nil, fmt.Errorf("invalid top_k %q", v)
		}
		opts = append(opts, matcher.WithTopK(k))
	}
	if v := r.FormValue("min_similarity"); v != "" {
		threshold, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid min_similarity %q", v)
		}
		opts = append(opts, matcher.WithThreshold(float32(threshold)))
	}
	if v := r.FormValue("max_hash_distance"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid max_hash_distance %q", v)
		}
		opts = append(opts, matcher.WithMaxHashDistance(d))
	}
	if v := r.FormValue("category"); v != "" {
		if !model.ValidCategory(v) {
			return nil, fmt.Errorf("invalid category %q", v)
		}
		opts = append(opts, matcher.WithCategory(v))
	}

	return opts, nil
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// imageContentType sniffs the uploaded bytes; the store only needs it to
// pick a file extension.
func imageContentType(data []byte) string {
	return http.DetectContentType(data)
}

func isUnavailable(err error) bool {
	var ue *embed.UnavailableError
	return errors.As(err, &ue)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, cardex.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cardex.ErrZeroVector):
		return http.StatusBadRequest
	case errors.Is(err, cardex.ErrClosed):
		return http.StatusServiceUnavailable
	}

	var (
		ic *cardex.ErrInvalidCategory
		ih *cardex.ErrInvalidHash
		dm *cardex.ErrDimensionMismatch
		su *cardex.ErrStorageUnavailable
		pu *cardex.ErrProviderUnavailable
	)
	switch {
	case errors.As(err, &ic), errors.As(err, &ih), errors.As(err, &dm):
		return http.StatusBadRequest
	case errors.As(err, &su):
		return http.StatusServiceUnavailable
	case errors.As(err, &pu):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func priceErrorStatus(err error) int {
	var pu *price.UnavailableError
	switch {
	case errors.Is(err, price.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pu):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
