package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

func TestErrorKindsMatchByKind(t *testing.T) {
	cases := []struct {
		err  error
		want *CustomError
		code int
	}{
		{Forbidden("not yours"), ErrForbidden, fiber.StatusForbidden},
		{NotFound("gone"), ErrNotFound, fiber.StatusNotFound},
		{InvalidState("responding", "cancel"), ErrInvalidState, fiber.StatusConflict},
		{InvalidTransition("resolved", "verified"), ErrInvalidTransition, fiber.StatusConflict},
		{DependencyFailure("notification", errors.New("smtp")), ErrDependencyFailure, fiber.StatusBadGateway},
		{UpstreamUnavailable("verifier", nil), ErrUpstreamUnavailable, fiber.StatusServiceUnavailable},
		{NewError(fiber.StatusUnauthorized, "who are you"), ErrUnauthorized, fiber.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", ValidationFailed([]CError{{Field: "type", Msg: "type is required"}})), ErrValidation, fiber.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%v is not %s", tc.err, tc.want.Kind)
		}
		var ce *CustomError
		if !As(tc.err, &ce) || ce.Code != tc.code {
			t.Errorf("%v: code = %d, want %d", tc.err, ce.Code, tc.code)
		}
	}
	if errors.Is(InvalidState("active", "resolve"), ErrInvalidTransition) {
		t.Error("invalid state must not match invalid transition")
	}
	if e := InvalidState("responding", "cancel"); e.Details != "responding" {
		t.Errorf("InvalidState details = %q", e.Details)
	}
}

func TestValidatorMessages(t *testing.T) {
	type input struct {
		Email string `json:"email" validate:"required,email"`
		Phone string `json:"phone" validate:"omitempty,phone"`
		Kind  string `json:"kind" validate:"oneof=a b"`
	}
	resp := NewValidator().Validate(input{Email: "nope", Phone: "abc", Kind: "c"})
	if resp == nil || len(resp.Errors) != 3 {
		t.Fatalf("Validate = %+v", resp)
	}
	want := map[string]string{
		"email": "email must be a valid email address",
		"phone": "phone must be a valid phone number",
		"kind":  "kind must be one of the following values: a b",
	}
	for _, e := range resp.Errors {
		if want[e.Field] != e.Msg {
			t.Errorf("%s: %q", e.Field, e.Msg)
		}
	}
	if NewValidator().Validate(input{Email: "a@b.co", Phone: "+63 917 555 0101", Kind: "a"}) != nil {
		t.Error("valid input rejected")
	}
}

func TestEnvelope(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error { return Success(c).WithStatus(fiber.StatusCreated).WithData(fiber.Map{"id": 1}).Send() })
	app.Get("/fail", func(c *fiber.Ctx) error { return SendError(c, InvalidTransition("resolved", "reported")) })
	app.Get("/boom", func(c *fiber.Ctx) error { return SendError(c, errors.New("disk on fire")) })
	app.Get("/page", func(c *fiber.Ctx) error {
		p, l := Pagination(c)
		return c.JSON(fiber.Map{"page": p, "limit": l})
	})

	get := func(path string, out interface{}) int {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		return resp.StatusCode
	}

	var r Response
	if code := get("/ok", &r); code != fiber.StatusCreated || !r.Success || r.Error != nil {
		t.Errorf("ok = %d %+v", code, r)
	}
	r = Response{}
	if code := get("/fail", &r); code != fiber.StatusConflict || r.Success || r.Error.Kind != KindInvalidTransition {
		t.Errorf("fail = %d %+v", code, r)
	}
	r = Response{}
	if code := get("/boom", &r); code != fiber.StatusInternalServerError || r.Error.Kind != KindInternal {
		t.Errorf("boom = %d %+v", code, r)
	}

	var pg struct{ Page, Limit int }
	get("/page?page=0&limit=500", &pg)
	if pg.Page != 1 || pg.Limit != 20 {
		t.Errorf("bounds = %+v", pg)
	}
	get("/page?page=3&limit=50", &pg)
	if pg.Page != 3 || pg.Limit != 50 {
		t.Errorf("page = %+v", pg)
	}
}

func TestPasswordCost(t *testing.T) {
	t.Cleanup(func() { SetPasswordCost(bcrypt.DefaultCost) })

	if got := SetPasswordCost(bcrypt.MinCost); got != bcrypt.MinCost {
		t.Fatalf("applied cost = %d", got)
	}
	hashed, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if cost, _ := bcrypt.Cost([]byte(hashed)); cost != bcrypt.MinCost {
		t.Fatalf("hash cost = %d, want %d", cost, bcrypt.MinCost)
	}
	if err := ComparePasswords(hashed, "hunter22"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := ComparePasswords(hashed, "hunter23"); !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		t.Fatalf("wrong password err = %v", err)
	}
	if PasswordNeedsRehash(hashed) {
		t.Fatal("hash at current cost flagged for rehash")
	}

	SetPasswordCost(bcrypt.MinCost + 1)
	if !PasswordNeedsRehash(hashed) {
		t.Fatal("hash below current cost not flagged")
	}
	if !PasswordNeedsRehash("plaintext") {
		t.Fatal("non-bcrypt value not flagged")
	}

	if got := SetPasswordCost(1); got != bcrypt.MinCost {
		t.Fatalf("low cost clamped to %d", got)
	}
	if got := SetPasswordCost(99); got != bcrypt.MaxCost || PasswordCost() != bcrypt.MaxCost {
		t.Fatalf("high cost clamped to %d", got)
	}
}
