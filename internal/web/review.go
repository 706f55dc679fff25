package web

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/conorfennell/dailyreview/internal/deck"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var templateFuncs = template.FuncMap{
	"markdown":   renderMarkdown,
	"formatTime": formatTime,
}

// reviewPage is the template data for the review page.
type reviewPage struct {
	Card     *domain.Card
	Counts   domain.Counts
	Upcoming int
	NextDue  *time.Time
	Ratings  []fsrs.Rating
	Error    string
}

// handleReviewPage renders the front of the next due card.
func (s *Server) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	s.renderReview(w, r, http.StatusOK, "")
}

// handleReviewForm records a rating submitted from the review page and
// redirects back to it.
func (s *Server) handleReviewForm(w http.ResponseWriter, r *http.Request) {
	rating, err := fsrs.ParseRating(r.PostFormValue("rating"))
	if err != nil {
		s.renderReview(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := deck.ReviewInput{Rating: rating}
	if a := r.PostFormValue("answer"); a != "" {
		in.Answer = &a
	}
	if _, err := s.deck.Review(r.Context(), s.ownerOf(r), r.PathValue("id"), in); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("review failed", "error", err)
		}
		s.renderReview(w, r, status, err.Error())
		return
	}
	http.Redirect(w, r, "/review", http.StatusSeeOther)
}

func (s *Server) renderReview(w http.ResponseWriter, r *http.Request, status int, message string) {
	owner := s.ownerOf(r)
	due, err := s.deck.Due(r.Context(), owner)
	if err != nil {
		s.logger.Error("loading due cards", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	counts, err := s.deck.Counts(r.Context(), owner)
	if err != nil {
		s.logger.Error("loading counts", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := reviewPage{
		Counts:   counts,
		Upcoming: due.UpcomingCount,
		NextDue:  due.NextDue,
		Ratings:  fsrs.Ratings,
		Error:    message,
	}
	if len(due.Cards) > 0 {
		data.Card = &due.Cards[0]
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "review", data); err != nil {
		s.logger.Error("rendering review page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderMarkdown converts card text to HTML. Raw HTML in the source is not
// passed through.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
