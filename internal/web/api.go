package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/dailyreview/internal/deck"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
	"github.com/conorfennell/dailyreview/internal/grader"
)

// maxBody caps request bodies. Batch creates are the largest legitimate payload.
const maxBody = 4 << 20

type draftRequest struct {
	Front              string   `json:"front" validate:"required,max=10000"`
	Context            *string  `json:"context" validate:"omitempty,max=20000"`
	SourceConversation *string  `json:"source_conversation" validate:"omitempty,max=2000"`
	Tags               []string `json:"tags" validate:"max=50,dive,max=100"`
}

func (d draftRequest) draft() domain.Draft {
	return domain.Draft{
		Front:              d.Front,
		Context:            d.Context,
		SourceConversation: d.SourceConversation,
		Tags:               d.Tags,
	}
}

// createRequest accepts either a single card or {"cards": [...]}.
type createRequest struct {
	draftRequest
	Cards []draftRequest `json:"cards"`
}

type editRequest struct {
	Front              *string        `json:"front" validate:"omitempty,max=10000"`
	Context            *string        `json:"context" validate:"omitempty,max=20000"`
	SourceConversation *string        `json:"source_conversation" validate:"omitempty,max=2000"`
	Tags               *[]string      `json:"tags" validate:"omitempty,max=50,dive,max=100"`
	Status             *domain.Status `json:"status" validate:"omitempty,oneof=triaging active suspended"`
}

type reviewRequest struct {
	Rating      fsrs.Rating `json:"rating" validate:"gte=1,lte=4"`
	Answer      *string     `json:"answer" validate:"omitempty,max=20000"`
	LLMScore    *float64    `json:"llm_score" validate:"omitempty,gte=0,lte=1"`
	LLMFeedback *string     `json:"llm_feedback" validate:"omitempty,max=20000"`
}

type evaluateRequest struct {
	Answer string `json:"answer" validate:"required,max=20000"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}

	batch := req.Cards != nil
	items := req.Cards
	if !batch {
		items = []draftRequest{req.draftRequest}
	}
	if len(items) == 0 {
		s.writeError(w, fmt.Errorf("%w: cards must not be empty", domain.ErrInvalidInput))
		return
	}
	if len(items) > deck.MaxBatch {
		s.writeError(w, fmt.Errorf("%w: at most %d cards per request", domain.ErrInvalidInput, deck.MaxBatch))
		return
	}

	drafts := make([]domain.Draft, 0, len(items))
	for i, it := range items {
		if err := s.validate.Struct(it); err != nil {
			s.writeError(w, fmt.Errorf("%w: card %d: %s", domain.ErrInvalidInput, i, describe(err)))
			return
		}
		drafts = append(drafts, it.draft())
	}

	cards, err := s.deck.Create(r.Context(), s.ownerOf(r), drafts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if batch {
		writeJSON(w, http.StatusCreated, map[string][]domain.Card{"cards": cards})
		return
	}
	writeJSON(w, http.StatusCreated, cards[0])
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var f domain.ListFilter
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.Status(v)
		f.Status = &st
	}
	cards, err := s.deck.List(r.Context(), s.ownerOf(r), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deck.Counts(r.Context(), s.ownerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	due, err := s.deck.Due(r.Context(), s.ownerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, due)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	card, err := s.deck.Get(r.Context(), s.ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	e := domain.CardEdit{
		Front:              req.Front,
		Context:            req.Context,
		SourceConversation: req.SourceConversation,
		Tags:               req.Tags,
		Status:             req.Status,
	}
	if e.IsEmpty() {
		s.writeError(w, fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput))
		return
	}
	card, err := s.deck.Edit(r.Context(), s.ownerOf(r), r.PathValue("id"), e)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deck.Delete(r.Context(), s.ownerOf(r), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	card, err := s.deck.Accept(r.Context(), s.ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	card, err := s.deck.Skip(r.Context(), s.ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	out, err := s.deck.Review(r.Context(), s.ownerOf(r), r.PathValue("id"), deck.ReviewInput{
		Rating:      req.Rating,
		Answer:      req.Answer,
		LLMScore:    req.LLMScore,
		LLMFeedback: req.LLMFeedback,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	out, err := s.deck.Evaluate(r.Context(), s.ownerOf(r), r.PathValue("id"), req.Answer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	out, err := s.deck.Preview(r.Context(), s.ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deck.History(r.Context(), s.ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deck.Sources(r.Context(), s.ownerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// decode reads a JSON body into dst. It writes a 400 and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		s.writeError(w, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// decodeValid is decode followed by struct validation.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !s.decode(w, r, dst) {
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err)))
		return false
	}
	return true
}

// describe flattens validator errors into "field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
	return msg
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, fsrs.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOperation), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, grader.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
