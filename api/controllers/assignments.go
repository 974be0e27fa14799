package controllers

import (
	"context"
	"net/http"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/responses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/validators"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/assignments"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// AssignmentService is the slice of the assignment handler the controllers use.
type AssignmentService interface {
	AssignLicense(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectName string) (bool, error)
	AssignToLicenses(ctx context.Context, licenseCodes []string, objectType enums.ObjectType, objectNames []string) (*assignments.BulkResult, error)
	RemoveAssignments(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectNames []string) ([]assignments.ObjectFailure, error)
	ChangeStatus(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectName string, newStatus enums.AssignmentStatus) error
}

type assignRequest struct {
	LicenseCode string `json:"licenseCode" validate:"required"`
	ObjectType  string `json:"objectType" validate:"required"`
	ObjectName  string `json:"objectName" validate:"required"`
}

func AssignmentAssign(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		objectType, err := parseObjectType(req.ObjectType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assigned, err := svc.AssignLicense(r.Context(), req.LicenseCode, objectType, req.ObjectName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"licenseCode": req.LicenseCode,
			"objectName":  req.ObjectName,
			"assigned":    assigned,
		})
	}
}

type bulkAssignRequest struct {
	LicenseCodes []string `json:"licenseCodes" validate:"required,min=1"`
	ObjectType   string   `json:"objectType" validate:"required"`
	ObjectNames  []string `json:"objectNames" validate:"required,min=1"`
}

func AssignmentBulkAssign(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkAssignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		objectType, err := parseObjectType(req.ObjectType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.AssignToLicenses(r.Context(), req.LicenseCodes, objectType, req.ObjectNames)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type removeAssignmentsRequest struct {
	LicenseCode string   `json:"licenseCode" validate:"required"`
	ObjectType  string   `json:"objectType" validate:"required"`
	ObjectNames []string `json:"objectNames" validate:"required,min=1"`
}

func AssignmentRemove(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req removeAssignmentsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		objectType, err := parseObjectType(req.ObjectType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		failures, err := svc.RemoveAssignments(r.Context(), req.LicenseCode, objectType, req.ObjectNames)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"licenseCode":   req.LicenseCode,
			"countRemoved":  len(req.ObjectNames) - len(failures),
			"failedObjects": failures,
		})
	}
}

type changeStatusRequest struct {
	LicenseCode string `json:"licenseCode" validate:"required"`
	ObjectType  string `json:"objectType" validate:"required"`
	ObjectName  string `json:"objectName" validate:"required"`
	Status      string `json:"status" validate:"required"`
}

func AssignmentChangeStatus(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changeStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		objectType, err := parseObjectType(req.ObjectType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseAssignmentStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid assignment status").
					WithDetails(map[string]any{"field": "status"}))
			return
		}
		if err := svc.ChangeStatus(r.Context(), req.LicenseCode, objectType, req.ObjectName, status); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"licenseCode": req.LicenseCode,
			"objectName":  req.ObjectName,
			"status":      status.String(),
		})
	}
}

func parseObjectType(raw string) (enums.ObjectType, error) {
	objectType, err := enums.ParseObjectType(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid object type").
			WithDetails(map[string]any{"field": "objectType"})
	}
	return objectType, nil
}
