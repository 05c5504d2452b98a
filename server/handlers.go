package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/optimode/emailverify"
)

type verifyRequest struct {
	Email string `json:"email" query:"email" validate:"required"`
}

type bulkRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,dive,required"`
}

// faultResponse keeps the verdict shape and adds the error.
type faultResponse struct {
	emailverify.Result
	Error string `json:"error"`
}

func (s *Server) verifyOne(c *fiber.Ctx) error {
	var req verifyRequest
	if c.Method() == fiber.MethodGet {
		req.Email = c.Query("email")
	} else if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	req.Email = strings.TrimSpace(req.Email)

	if err := s.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email is required"})
	}

	res, err := s.verifier.Verify(c.UserContext(), req.Email)
	if err != nil {
		return s.fault(c, req.Email, err)
	}
	return c.JSON(res)
}

func (s *Server) verifyBulk(c *fiber.Ctx) error {
	var req bulkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	for i := range req.Emails {
		req.Emails[i] = strings.TrimSpace(req.Emails[i])
	}
	if err := s.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Emails must be a non-empty list of addresses"})
	}
	if len(req.Emails) > s.cfg.MaxBulk {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("At most %d emails per request", s.cfg.MaxBulk),
		})
	}

	results, err := s.verifier.VerifyMany(c.UserContext(), req.Emails, emailverify.ConcurrencyOptions{
		Workers: s.cfg.BulkWorkers,
	})
	if err != nil {
		if !errors.Is(err, emailverify.ErrVerificationFault) {
			s.cfg.ReportFault(c, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		// Faulted entries already carry an error verdict.
		s.logFault(c, "", err)
		s.cfg.ReportFault(c, err)
	}
	return c.JSON(results)
}

func (s *Server) fault(c *fiber.Ctx, email string, err error) error {
	s.logFault(c, email, err)
	s.cfg.ReportFault(c, err)
	return c.Status(fiber.StatusInternalServerError).JSON(faultResponse{
		Result: emailverify.ErrorResult(email),
		Error:  err.Error(),
	})
}

func (s *Server) logFault(c *fiber.Ctx, email string, err error) {
	fields := logrus.Fields{"request_id": requestID(c)}
	if email != "" {
		fields["email"] = email
	}
	s.log.WithFields(fields).WithError(err).Error("verification fault")
}
