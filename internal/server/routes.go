package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/store"
)

// handle adapts a service operation to an HTTP handler. bind fills the
// input from the request; the result is written with status on success.
func handle[In, Out any](op func(context.Context, In) (Out, error), bind func(*http.Request, *In) error, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := bind(r, &in); err != nil {
			writeError(w, err)
			return
		}
		out, err := op(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, status, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	info := api.Describe(err)
	writeJSON(w, info.Status, info)
}

var errInvalidJSON = &store.ValidationError{Field: "body", Reason: "invalid json"}

// bindBody decodes an optional JSON body into in.
func bindBody[In any](r *http.Request, in *In) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(in)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errInvalidJSON
}

func bindID(r *http.Request, in *api.IDInput) error {
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindDelete(r *http.Request, in *api.DeleteArtifactInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	q := r.URL.Query()
	if v := q.Get("reason"); v != "" {
		in.Reason = v
	}
	if q.Has("force") {
		force, err := queryBool(q, "force")
		if err != nil {
			return err
		}
		in.Force = force
	}
	return nil
}

func bindSupersede(r *http.Request, in *api.SupersedeFactInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.OldID = chi.URLParam(r, "id")
	return nil
}

func bindOutcome(r *http.Request, in *api.ValidateDecisionInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindGateUpdate(r *http.Request, in *api.GateUpdateInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindGateLink(r *http.Request, in *api.GateLinkInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindGateClear(r *http.Request, in *api.GateClearInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindGateComplete(r *http.Request, in *api.GateCompleteInput) error {
	if err := bindBody(r, in); err != nil {
		return err
	}
	in.ID = chi.URLParam(r, "id")
	return nil
}

func bindListArtifacts(r *http.Request, in *api.ListArtifactsInput) error {
	q := r.URL.Query()
	in.Type = store.Type(q.Get("type"))
	in.Tags = q["tag"]
	in.Sensitivity = store.Sensitivity(q.Get("sensitivity"))
	in.Workflow = q.Get("workflow")
	in.Since = q.Get("since")
	in.Until = q.Get("until")
	in.Text = q.Get("text")
	var err error
	if in.IncludeDeleted, err = queryBool(q, "include_deleted"); err != nil {
		return err
	}
	in.Limit, err = queryInt(q, "limit")
	return err
}

func bindUnreviewed(r *http.Request, in *api.ListUnreviewedInput) error {
	q := r.URL.Query()
	in.IncludeTags = q["include_tag"]
	in.ExcludeTags = q["exclude_tag"]
	if q.Has("older_than_hours") {
		h, err := queryFloat(q, "older_than_hours")
		if err != nil {
			return err
		}
		in.OlderThanHours = &h
	}
	var err error
	in.Limit, err = queryInt(q, "limit")
	return err
}

func bindChanges(r *http.Request, in *api.RecentChangesInput) error {
	q := r.URL.Query()
	in.RiskTags = q["risk_tag"]
	in.Scope = q.Get("scope")
	var err error
	if in.Hours, err = queryFloat(q, "hours"); err != nil {
		return err
	}
	in.Limit, err = queryInt(q, "limit")
	return err
}

func bindThreshold(r *http.Request, in *api.ThresholdInput) error {
	var err error
	in.PeriodDays, err = queryInt(r.URL.Query(), "period_days")
	return err
}

func bindAudit(r *http.Request, in *api.AuditInput) error {
	q := r.URL.Query()
	in.Kind = q.Get("kind")
	in.RuleID = q.Get("rule_id")
	in.Since = q.Get("since")
	var err error
	in.Limit, err = queryInt(q, "limit")
	return err
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &store.ValidationError{Field: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}

func queryFloat(q url.Values, key string) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &store.ValidationError{Field: key, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &store.ValidationError{Field: key, Reason: fmt.Sprintf("not a boolean: %q", v)}
	}
	return b, nil
}
