package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docdex/internal/events"
	"docdex/internal/model"
)

// JobItem is the wire representation of one job, the event stream's
// job-status shape plus live progress.
type JobItem struct {
	events.WireJobStatus
	Progress *events.WireProgress `json:"progress,omitempty"`
}

type JobResponse struct {
	Success bool     `json:"success"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	Job     *JobItem `json:"job,omitempty"`
}

type JobListResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	Jobs    []JobItem `json:"jobs"`
}

type ClearJobsResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

func jobItem(job *model.Job) *JobItem {
	item := &JobItem{WireJobStatus: events.JobToWire(job)}
	if job.Progress != nil {
		p := events.ProgressToWire(*job.Progress)
		item.Progress = &p
	}
	return item
}

func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false, Code: "BAD_REQUEST", Error: err.Error(),
		})
	case errors.Is(err, model.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(JobResponse{
			Success: false, Code: "NOT_FOUND", Error: err.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(JobResponse{
			Success: false, Code: "INTERNAL", Error: err.Error(),
		})
	}
}

func parseJobID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Server) enqueueJob(c *fiber.Ctx) error {
	opts := model.DefaultScraperOptions()
	if err := c.BodyParser(&opts); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false, Code: "BAD_REQUEST", Error: "invalid request body",
		})
	}

	job, err := s.manager.Enqueue(c.Context(), opts)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(JobResponse{Success: true, Job: jobItem(job)})
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	var filter []model.JobStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter = append(filter, model.JobStatus(strings.TrimSpace(part)))
		}
	}

	all := s.manager.List(filter...)
	items := make([]JobItem, 0, len(all))
	for _, job := range all {
		items = append(items, *jobItem(job))
	}
	return c.JSON(JobListResponse{Success: true, Jobs: items})
}

func (s *Server) getJob(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false, Code: "BAD_REQUEST", Error: "invalid job id",
		})
	}

	job, err := s.manager.Get(id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: jobItem(job)})
}

func (s *Server) cancelJob(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false, Code: "BAD_REQUEST", Error: "invalid job id",
		})
	}

	if _, err := s.manager.Cancel(id); err != nil {
		return errorResponse(c, err)
	}
	job, err := s.manager.Get(id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: jobItem(job)})
}

// refreshJob re-ingests the library version behind an existing job,
// revisiting stored pages conditionally instead of starting over.
func (s *Server) refreshJob(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false, Code: "BAD_REQUEST", Error: "invalid job id",
		})
	}

	job, err := s.manager.Get(id)
	if err != nil {
		return errorResponse(c, err)
	}
	refreshed, err := s.manager.Refresh(c.Context(), job.Library, job.Version)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(JobResponse{Success: true, Job: jobItem(refreshed)})
}

func (s *Server) clearJobs(c *fiber.Ctx) error {
	removed := s.manager.ClearCompleted()
	return c.JSON(ClearJobsResponse{Success: true, Removed: removed})
}
