package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type fakeVM struct {
	ID   string
	Name string
}

type fakeResolver map[string]fakeVM

var errMissing = errors.New("missing")

func (f fakeResolver) Resolve(_ context.Context, idOrName string) (string, any, error) {
	for id, vm := range f {
		if id == idOrName || vm.Name == idOrName {
			return id, vm, nil
		}
	}
	return "", nil, errMissing
}

func newResolveRouter(t *testing.T) http.Handler {
	t.Helper()
	resolver := fakeResolver{"c1a2": {ID: "c1a2", Name: "web"}}
	responder := func(w http.ResponseWriter, err error, lookup string) {
		http.Error(w, lookup+": "+err.Error(), http.StatusNotFound)
	}

	r := chi.NewRouter()
	r.Route("/vms/{id}", func(r chi.Router) {
		r.Use(ResolveVM(resolver, responder))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			vm := GetResolvedVM[fakeVM](r.Context())
			if vm == nil {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			w.Write([]byte(GetResolvedID(r.Context(), ResourceVM) + "/" + vm.Name))
		})
	})
	return r
}

func TestResolveVM(t *testing.T) {
	router := newResolveRouter(t)

	for _, lookup := range []string{"c1a2", "web"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vms/"+lookup+"/", nil))
		assert.Equal(t, http.StatusOK, rr.Code, lookup)
		assert.Equal(t, "c1a2/web", rr.Body.String())
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vms/nope/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "nope: missing")
}

func TestGetResolvedVM_WrongType(t *testing.T) {
	ctx := WithResolved(context.Background(), ResourceVM, "x", "not a vm")
	assert.Nil(t, GetResolvedVM[fakeVM](ctx))
	assert.Equal(t, "x", GetResolvedID(ctx, ResourceVM))

	ctx = WithResolved(context.Background(), ResourceVM, "y", &fakeVM{ID: "y"})
	vm := GetResolvedVM[fakeVM](ctx)
	if assert.NotNil(t, vm) {
		assert.Equal(t, "y", vm.ID)
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(8 * datasize.B)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"cpus":{"boot_vcpus":2}}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
