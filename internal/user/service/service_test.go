package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodian/internal/jwttoken"
	"custodian/internal/user/store"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

type UserServiceSuite struct {
	suite.Suite
	svc *Service
	jwt *jwttoken.JWTService
	ctx context.Context
}

func TestUserServiceSuite(t *testing.T) {
	suite.Run(t, new(UserServiceSuite))
}

func (s *UserServiceSuite) SetupTest() {
	s.jwt = jwttoken.NewJWTService("test-signing-key", "custodian", "custodian-api")
	s.svc = New(store.NewMemory(), s.jwt)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (s *UserServiceSuite) register(email string) RegisterInput {
	return RegisterInput{
		Email:    email,
		Password: "correct horse battery",
		Name:     "SGT Jane Doe",
		Rank:     "SGT",
		Unit:     "2-75 RGR",
	}
}

func (s *UserServiceSuite) TestRegister() {
	s.Run("creates an account with a hashed password", func() {
		user, err := s.svc.Register(s.ctx, s.register("jane@example.mil"))
		s.Require().NoError(err)
		s.Equal("jane@example.mil", user.Email)
		s.NotEmpty(user.PasswordHash)
		s.NotEqual("correct horse battery", user.PasswordHash)
	})

	s.Run("normalizes email case", func() {
		user, err := s.svc.Register(s.ctx, s.register("John.Smith@Example.Mil"))
		s.Require().NoError(err)
		s.Equal("john.smith@example.mil", user.Email)
	})

	s.Run("rejects a duplicate email", func() {
		_, err := s.svc.Register(s.ctx, s.register("jane@example.mil"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a short password", func() {
		in := s.register("short@example.mil")
		in.Password = "hunter2"
		_, err := s.svc.Register(s.ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects an invalid email", func() {
		in := s.register("not-an-email")
		_, err := s.svc.Register(s.ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *UserServiceSuite) TestLogin() {
	registered, err := s.svc.Register(s.ctx, s.register("jane@example.mil"))
	s.Require().NoError(err)

	s.Run("valid credentials yield a usable token", func() {
		user, token, err := s.svc.Login(s.ctx, "jane@example.mil", "correct horse battery", "device-1")
		s.Require().NoError(err)
		s.Equal(registered.ID, user.ID)

		claims, err := s.jwt.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(registered.ID.String(), claims.UserID)
		s.Equal("device-1", claims.ClientID)
	})

	s.Run("wrong password is unauthorized", func() {
		_, _, err := s.svc.Login(s.ctx, "jane@example.mil", "wrong password", "device-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown email gets the same error as a wrong password", func() {
		_, _, err := s.svc.Login(s.ctx, "nobody@example.mil", "correct horse battery", "device-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *UserServiceSuite) TestSearch() {
	jane := s.register("jane@example.mil")
	_, err := s.svc.Register(s.ctx, jane)
	s.Require().NoError(err)

	john := s.register("john@example.mil")
	john.Name = "SPC John Smith"
	_, err = s.svc.Register(s.ctx, john)
	s.Require().NoError(err)

	s.Run("matches by partial name, case-insensitively", func() {
		users, err := s.svc.Search(s.ctx, "smith")
		s.Require().NoError(err)
		s.Require().Len(users, 1)
		s.Equal("john@example.mil", users[0].Email)
	})

	s.Run("matches by partial email", func() {
		users, err := s.svc.Search(s.ctx, "example.mil")
		s.Require().NoError(err)
		s.Len(users, 2)
	})

	s.Run("rejects an empty query", func() {
		_, err := s.svc.Search(s.ctx, "   ")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *UserServiceSuite) TestGet() {
	registered, err := s.svc.Register(s.ctx, s.register("jane@example.mil"))
	s.Require().NoError(err)

	user, err := s.svc.Get(s.ctx, registered.ID)
	s.Require().NoError(err)
	s.Equal(registered.Email, user.Email)
}
