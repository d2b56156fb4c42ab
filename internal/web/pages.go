package web

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/evallog"
	"github.com/sells-group/rag-evaluator/internal/evaluator"
	"github.com/sells-group/rag-evaluator/internal/model"
	"github.com/sells-group/rag-evaluator/internal/session"
	"github.com/sells-group/rag-evaluator/pkg/pipeline"
)

var funcs = template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"stamp": func(t time.Time) string { return t.UTC().Format(evallog.TimestampLayout) },
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"evaluate", "logs"} {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, eris.Wrapf(err, "web: parse %s template", name)
		}
		pages[name] = t
	}
	return pages, nil
}

const recoveredNotice = "Evaluation logged, but the stored log could not be read and was replaced. Earlier rows were not kept."

type flash struct {
	Kind    string
	Message string
}

type pipelineOption struct {
	Value   model.Pipeline
	Label   string
	Checked bool
}

type criterion struct {
	Label        string
	Field        string
	Score        int
	CommentField string
	Comment      string
}

type choice struct {
	Value    string
	Selected bool
}

type page struct {
	Title string
	Mode  string
	Flash *flash
}

type evaluateData struct {
	page
	Form        session.Form
	Pipelines   []pipelineOption
	MinResults  int
	MaxResults  int
	HasAnswer   bool
	Answer      *model.Answer
	Bound       model.Query
	AnswerLabel string
	Rubric      model.Rubric
	Criteria    []criterion
	MinScore    int
	MaxScore    int
}

type logsData struct {
	page
	View            *evaluator.LogView
	ExaminerChoices []choice
	ModelChoices    []choice
	Columns         []string
	ExportURL       string
}

// render writes a page into a buffer first so template errors never produce
// a half-written response.
func (s *Server) render(w http.ResponseWriter, name string, status int, data any) {
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		zap.L().Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) evaluateData(sess *session.Session, f *flash) evaluateData {
	d := evaluateData{
		page:       page{Title: "eAMR RAG Evaluation Interface", Mode: "evaluate", Flash: f},
		Form:       sess.Form,
		MinResults: model.MinResultCount,
		MaxResults: model.MaxResultCount,
		HasAnswer:  sess.HasAnswer(),
		Answer:     sess.Answer(),
		Bound:      sess.Query(),
		Rubric:     sess.Rubric(),
		MinScore:   model.MinScore,
		MaxScore:   model.MaxScore,
	}
	for _, p := range model.Pipelines() {
		d.Pipelines = append(d.Pipelines, pipelineOption{Value: p, Label: s.label(p), Checked: p == sess.Form.Model})
	}
	if d.HasAnswer {
		d.AnswerLabel = s.label(d.Bound.Model)
	}
	r := d.Rubric
	d.Criteria = []criterion{
		{"Relevance", "relevance", r.Relevance, "relevance_comment", r.RelevanceComment},
		{"Factual Accuracy", "factual_accuracy", r.FactualAccuracy, "factual_accuracy_comment", r.FactualAccuracyComment},
		{"Response Time", "response_time", r.ResponseTime, "response_time_comment", r.ResponseTimeComment},
		{"Perspective Coverage", "perspective_coverage", r.PerspectiveCoverage, "perspective_coverage_comment", r.PerspectiveCoverageComment},
	}
	return d
}

func (s *Server) evaluatePage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	s.render(w, "evaluate", http.StatusOK, s.evaluateData(sess, nil))
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	if err := r.ParseForm(); err != nil {
		s.render(w, "evaluate", http.StatusBadRequest, s.evaluateData(sess, &flash{"warning", "Could not read the form."}))
		return
	}
	form := session.Form{
		Examiner:    r.PostFormValue("examiner"),
		Model:       model.Pipeline(r.PostFormValue("model")),
		ResultCount: formInt(r, "n_results"),
		Query:       r.PostFormValue("query"),
	}

	if err := s.svc.RunQuery(r.Context(), sess, form); err != nil {
		status, f := flashFor(err)
		if evaluator.IsInput(err) && (strings.TrimSpace(form.Examiner) == "" || strings.TrimSpace(form.Query) == "") {
			f.Message = "Please provide both a query and examiner name."
		}
		s.render(w, "evaluate", status, s.evaluateData(sess, f))
		return
	}

	s.render(w, "evaluate", http.StatusOK, s.evaluateData(sess, &flash{"success", "Summary generated."}))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	if err := r.ParseForm(); err != nil {
		s.render(w, "evaluate", http.StatusBadRequest, s.evaluateData(sess, &flash{"warning", "Could not read the form."}))
		return
	}
	rubric := model.Rubric{
		Relevance:                  formInt(r, "relevance"),
		RelevanceComment:           r.PostFormValue("relevance_comment"),
		FactualAccuracy:            formInt(r, "factual_accuracy"),
		FactualAccuracyComment:     r.PostFormValue("factual_accuracy_comment"),
		ResponseTime:               formInt(r, "response_time"),
		ResponseTimeComment:        r.PostFormValue("response_time_comment"),
		PerspectiveCoverage:        formInt(r, "perspective_coverage"),
		PerspectiveCoverageComment: r.PostFormValue("perspective_coverage_comment"),
		GeneralComment:             r.PostFormValue("general_comment"),
	}

	sub, err := s.svc.Submit(r.Context(), sess, rubric)
	if err != nil {
		status, f := flashFor(err)
		s.render(w, "evaluate", status, s.evaluateData(sess, f))
		return
	}
	if sub.Recovered {
		s.render(w, "evaluate", http.StatusOK, s.evaluateData(sess, &flash{"warning", recoveredNotice}))
		return
	}

	s.render(w, "evaluate", http.StatusOK, s.evaluateData(sess, &flash{"success", "Evaluation logged successfully."}))
}

func (s *Server) logsPage(w http.ResponseWriter, r *http.Request) {
	s.session(w, r)
	filter := filterFrom(r)

	data := logsData{
		page:    page{Title: "Logged Evaluations", Mode: "logs"},
		Columns: evallog.Header,
	}

	view, err := s.svc.View(r.Context(), filter)
	if err != nil {
		status, f := flashFor(err)
		data.Flash = f
		data.ExaminerChoices = choices(nil, filter.Examiner)
		data.ModelChoices = choices(nil, filter.Model)
		s.render(w, "logs", status, data)
		return
	}

	data.View = view
	data.ExaminerChoices = choices(view.Options.Examiners, filter.Examiner)
	data.ModelChoices = choices(view.Options.Models, filter.Model)
	data.ExportURL = "/logs/export?" + url.Values{
		"examiner": {orAll(filter.Examiner)},
		"model":    {orAll(filter.Model)},
	}.Encode()
	if view.Recovered {
		data.Flash = &flash{"error", "The stored log could not be read and is shown as empty."}
	}
	s.render(w, "logs", http.StatusOK, data)
}

func (s *Server) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter := filterFrom(r)
	data, err := s.svc.Export(r.Context(), filter)
	if err != nil {
		status, f := flashFor(err)
		http.Error(w, f.Message, status)
		return
	}

	zap.L().Info("log exported",
		zap.String("examiner", orAll(filter.Examiner)),
		zap.String("model", orAll(filter.Model)),
		zap.Int("bytes", len(data)),
	)
	w.Header().Set("Content-Type", evallog.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+evallog.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// flashFor maps a workflow error to a response status and a message for the reviewer.
func flashFor(err error) (int, *flash) {
	switch {
	case evaluator.IsInput(err):
		return http.StatusBadRequest, &flash{"warning", "Invalid input: " + err.Error()}
	case pipeline.IsUnavailable(err):
		return http.StatusBadGateway, &flash{"error", "Failed to get response: " + err.Error()}
	case evallog.IsConflict(err):
		return http.StatusConflict, &flash{"error", "The log was changed by someone else before your evaluation was saved. Nothing was written; submit again to retry."}
	case evallog.IsCorrupt(err):
		return http.StatusInternalServerError, &flash{"error", "The evaluation log could not be read: " + err.Error()}
	default:
		return http.StatusInternalServerError, &flash{"error", "Unexpected error: " + err.Error()}
	}
}

func filterFrom(r *http.Request) evallog.Filter {
	q := r.URL.Query()
	return evallog.Filter{Examiner: q.Get("examiner"), Model: q.Get("model")}
}

func choices(values []string, selected string) []choice {
	selected = orAll(selected)
	out := []choice{{Value: evallog.All, Selected: selected == evallog.All}}
	for _, v := range values {
		out = append(out, choice{Value: v, Selected: v == selected})
	}
	return out
}

func orAll(v string) string {
	if v == "" {
		return evallog.All
	}
	return v
}

// formInt returns the integer form value for key, or 0 when absent or malformed
// so that range validation rejects it.
func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue(key)))
	if err != nil {
		return 0
	}
	return n
}
