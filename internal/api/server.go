package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/uiforensics/elementcap/internal/controller"
	"github.com/uiforensics/elementcap/internal/protocol"
	"github.com/uiforensics/elementcap/internal/record"
)

type Service interface {
	HealthCheck(ctx context.Context) (controller.Health, error)
	ListSessions(ctx context.Context) ([]controller.SessionView, error)
	OpenSession(ctx context.Context, key string) error
	CloseSession(ctx context.Context, key string) error
	StartSelection(ctx context.Context, key string) error
	StopSelection(ctx context.Context, key string) error
	SetVisibility(ctx context.Context, key string, shown bool) error
	LastSelection(ctx context.Context, key string) (protocol.SelectionPayload, error)
	Capture(ctx context.Context, key string) (record.CaptureRecord, error)
	ListRecords(ctx context.Context) ([]record.CaptureRecord, error)
	GetRecord(ctx context.Context, id string) (record.CaptureRecord, error)
	ReadRecordImage(ctx context.Context, id string) ([]byte, error)
	DeleteRecord(ctx context.Context, id string) error
}

type sessionKeyInput struct {
	SessionKey string `path:"session_key"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer builds the HTTP surface. The events handler streams live
// message traffic and is mounted outside huma because it never returns
// a finite body.
func NewServer(svc Service, events http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Element Capture API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if events != nil {
		router.Handle("/api/v1/events", events)
	}

	registerSessionHandlers(api, svc)
	registerRecordHandlers(api, svc)

	return router
}

func registerSessionHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body controller.Health
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Service health and counters", Tags: []string{"Service"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			h, err := svc.HealthCheck(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &healthOutput{}
			out.Body = h
			return out, nil
		})

	type listSessionsOutput struct {
		Body struct {
			Sessions []controller.SessionView `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List capture sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*listSessionsOutput, error) {
			views, err := svc.ListSessions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSessionsOutput{}
			out.Body.Sessions = views
			if out.Body.Sessions == nil {
				out.Body.Sessions = []controller.SessionView{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-session", Method: http.MethodPost, Path: "/api/v1/sessions/{session_key}", Summary: "Open an inspector session", Description: "Reopening a key replaces the previous inspector for that key.", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionKeyInput) (*statusOutput, error) {
			if err := svc.OpenSession(ctx, input.SessionKey); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "open"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "close-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{session_key}", Summary: "Close an inspector session", Description: "Tears down the paired page agent and cancels any active selection.", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionKeyInput) (*statusOutput, error) {
			if err := svc.CloseSession(ctx, input.SessionKey); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "closed"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-visibility", Method: http.MethodPut, Path: "/api/v1/sessions/{session_key}/visibility", Summary: "Report panel visibility", Description: "Hiding the panel cancels any selection in progress.", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			SessionKey string `path:"session_key"`
			Body       struct {
				Shown bool `json:"shown"`
			}
		}) (*statusOutput, error) {
			if err := svc.SetVisibility(ctx, input.SessionKey, input.Body.Shown); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			if input.Body.Shown {
				out.Body.Status = "shown"
			} else {
				out.Body.Status = "hidden"
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "start-selection", Method: http.MethodPost, Path: "/api/v1/sessions/{session_key}/selection/start", Summary: "Arm element selection on the page", Tags: []string{"Selection"}},
		func(ctx context.Context, input *sessionKeyInput) (*statusOutput, error) {
			if err := svc.StartSelection(ctx, input.SessionKey); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "selecting"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-selection", Method: http.MethodPost, Path: "/api/v1/sessions/{session_key}/selection/stop", Summary: "Disarm element selection", Tags: []string{"Selection"}},
		func(ctx context.Context, input *sessionKeyInput) (*statusOutput, error) {
			if err := svc.StopSelection(ctx, input.SessionKey); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "stopped"
			return out, nil
		})

	type selectionOutput struct {
		Body protocol.SelectionPayload
	}
	huma.Register(api, huma.Operation{OperationID: "get-selection", Method: http.MethodGet, Path: "/api/v1/sessions/{session_key}/selection", Summary: "Get the last confirmed selection", Tags: []string{"Selection"}},
		func(ctx context.Context, input *sessionKeyInput) (*selectionOutput, error) {
			sel, err := svc.LastSelection(ctx, input.SessionKey)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &selectionOutput{}
			out.Body = sel
			return out, nil
		})

	type captureOutput struct {
		Body struct {
			Record record.CaptureRecord `json:"record"`
			URL    string               `json:"url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "capture-selection", Method: http.MethodPost, Path: "/api/v1/sessions/{session_key}/capture", Summary: "Capture the confirmed selection", Description: "Screenshots the page, crops to the selected element, and persists a capture record.", Tags: []string{"Capture"}},
		func(ctx context.Context, input *sessionKeyInput) (*captureOutput, error) {
			rec, err := svc.Capture(ctx, input.SessionKey)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &captureOutput{}
			out.Body.Record = rec
			out.Body.URL = "/api/v1/records/" + rec.ID + "/image"
			return out, nil
		})
}

func registerRecordHandlers(api huma.API, svc Service) {
	type recordIDInput struct {
		RecordID string `path:"record_id"`
	}

	type listRecordsOutput struct {
		Body struct {
			Records []record.CaptureRecord `json:"records"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-records", Method: http.MethodGet, Path: "/api/v1/records", Summary: "List capture records (newest first)", Tags: []string{"Records"}},
		func(ctx context.Context, input *struct{}) (*listRecordsOutput, error) {
			recs, err := svc.ListRecords(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRecordsOutput{}
			out.Body.Records = recs
			if out.Body.Records == nil {
				out.Body.Records = []record.CaptureRecord{}
			}
			return out, nil
		})

	type getRecordOutput struct {
		Body record.CaptureRecord
	}
	huma.Register(api, huma.Operation{OperationID: "get-record", Method: http.MethodGet, Path: "/api/v1/records/{record_id}", Summary: "Get one capture record", Tags: []string{"Records"}},
		func(ctx context.Context, input *recordIDInput) (*getRecordOutput, error) {
			rec, err := svc.GetRecord(ctx, input.RecordID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &getRecordOutput{}
			out.Body = rec
			return out, nil
		})

	type recordImageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-record-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/records/{record_id}/image",
		Summary:     "Get the cropped element image",
		Tags:        []string{"Records"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Cropped element image",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *recordIDInput) (*recordImageOutput, error) {
		data, err := svc.ReadRecordImage(ctx, input.RecordID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &recordImageOutput{ContentType: "image/png", Body: data}, nil
	})

	huma.Register(api, huma.Operation{OperationID: "delete-record", Method: http.MethodDelete, Path: "/api/v1/records/{record_id}", Summary: "Delete a capture record", Tags: []string{"Records"}},
		func(ctx context.Context, input *recordIDInput) (*statusOutput, error) {
			if err := svc.DeleteRecord(ctx, input.RecordID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeValidation, protocol.CodeRecordMalformed:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeSessionNotFound, protocol.CodeRecordNotFound:
			return huma.Error404NotFound(coded.Message)
		case protocol.CodeCrossOrigin:
			return huma.Error409Conflict(coded.Message)
		case protocol.CodeCropEmpty:
			return huma.Error422UnprocessableEntity(coded.Message)
		case protocol.CodeRecordCapacity:
			return huma.NewError(http.StatusInsufficientStorage, coded.Message)
		case protocol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case protocol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
