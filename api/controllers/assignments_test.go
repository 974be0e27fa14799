package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/assignments"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

type assignmentServiceStub struct {
	assigns     []string
	bulkResult  *assignments.BulkResult
	removed     []string
	statusCalls []enums.AssignmentStatus
	lastType    enums.ObjectType
}

func (s *assignmentServiceStub) AssignLicense(_ context.Context, licenseCode string, objectType enums.ObjectType, objectName string) (bool, error) {
	s.assigns = append(s.assigns, licenseCode+"/"+objectName)
	s.lastType = objectType
	return true, nil
}

func (s *assignmentServiceStub) AssignToLicenses(context.Context, []string, enums.ObjectType, []string) (*assignments.BulkResult, error) {
	return s.bulkResult, nil
}

func (s *assignmentServiceStub) RemoveAssignments(_ context.Context, _ string, _ enums.ObjectType, objectNames []string) ([]assignments.ObjectFailure, error) {
	s.removed = append(s.removed, objectNames...)
	return nil, nil
}

func (s *assignmentServiceStub) ChangeStatus(_ context.Context, _ string, _ enums.ObjectType, _ string, newStatus enums.AssignmentStatus) error {
	s.statusCalls = append(s.statusCalls, newStatus)
	return nil
}

func assignmentRouter(svc AssignmentService) http.Handler {
	logg := testLogger()
	r := chi.NewRouter()
	r.Post("/assignments", AssignmentAssign(svc, logg))
	r.Post("/assignments/bulk", AssignmentBulkAssign(svc, logg))
	r.Post("/assignments/remove", AssignmentRemove(svc, logg))
	r.Post("/assignments/status", AssignmentChangeStatus(svc, logg))
	return r
}

func TestAssignmentAssign(t *testing.T) {
	svc := &assignmentServiceStub{}
	router := assignmentRouter(svc)

	body := `{"licenseCode":"WES-1","objectType":"GROUP","objectName":"mathe-ag"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if len(svc.assigns) != 1 || svc.assigns[0] != "WES-1/mathe-ag" {
		t.Fatalf("assign not delegated: %+v", svc.assigns)
	}
	if svc.lastType != enums.ObjectTypeGroup {
		t.Fatalf("object type not mapped: %v", svc.lastType)
	}
}

func TestAssignmentAssignRejectsUnknownObjectType(t *testing.T) {
	svc := &assignmentServiceStub{}
	router := assignmentRouter(svc)

	body := `{"licenseCode":"WES-1","objectType":"CLASSROOM","objectName":"7a"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments", strings.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(svc.assigns) != 0 {
		t.Fatalf("service must not be called on invalid input")
	}
}

func TestAssignmentBulkPassesResultThrough(t *testing.T) {
	svc := &assignmentServiceStub{bulkResult: &assignments.BulkResult{
		CountSuccessfulAssignments: 2,
		NotEnoughLicenses:          true,
		FailedObjects: []assignments.ObjectFailure{
			{Object: "ghost", Error: "user not found"},
		},
	}}
	router := assignmentRouter(svc)

	body := `{"licenseCodes":["WES-1","WES-2"],"objectType":"USER","objectNames":["anna","ben","ghost"]}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments/bulk", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	payload := w.Body.String()
	for _, needle := range []string{"countSuccessfulAssignments", "notEnoughLicenses", "ghost"} {
		if !strings.Contains(payload, needle) {
			t.Fatalf("bulk result not passed through, missing %q: %s", needle, payload)
		}
	}
}

func TestAssignmentChangeStatus(t *testing.T) {
	svc := &assignmentServiceStub{}
	router := assignmentRouter(svc)

	body := `{"licenseCode":"WES-1","objectType":"USER","objectName":"anna","status":"PROVISIONED"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments/status", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if len(svc.statusCalls) != 1 || svc.statusCalls[0] != enums.AssignmentStatusProvisioned {
		t.Fatalf("status not delegated: %+v", svc.statusCalls)
	}
}

func TestAssignmentChangeStatusRejectsUnknownStatus(t *testing.T) {
	svc := &assignmentServiceStub{}
	router := assignmentRouter(svc)

	body := `{"licenseCode":"WES-1","objectType":"USER","objectName":"anna","status":"RETIRED"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments/status", strings.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(svc.statusCalls) != 0 {
		t.Fatalf("service must not be called on invalid input")
	}
}

func TestAssignmentRemove(t *testing.T) {
	svc := &assignmentServiceStub{}
	router := assignmentRouter(svc)

	body := `{"licenseCode":"WES-1","objectType":"USER","objectNames":["anna","ben"]}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assignments/remove", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if len(svc.removed) != 2 {
		t.Fatalf("remove not delegated: %+v", svc.removed)
	}
}
