// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth.go - Sign-in management for the privia CLI.
//
// Commands:
//   login     Sign in with email and password
//   signup    Create an account and sign in
//   logout    Remove stored credentials
//   whoami    Show the signed-in user

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jeranaias/privia/internal/api"
)

// Login signs in and stores the token with the user's profile.
func (a *App) Login(ctx context.Context, email, password string) (*api.UserProfile, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	resp, err := a.Client.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, errors.New("invalid email or password")
		}
		return nil, err
	}
	if err := a.Session.Save(resp.AccessToken, &resp.User); err != nil {
		return nil, err
	}
	a.Logger.Info("signed in", zap.String("user_id", resp.User.ID))
	return &resp.User, nil
}

// Signup creates an account and signs in with it.
func (a *App) Signup(ctx context.Context, req api.SignupRequest) (*api.UserProfile, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	if err := a.Client.Signup(ctx, req); err != nil {
		return nil, err
	}
	return a.Login(ctx, req.Email, req.Password)
}

// Logout removes the stored credentials.
func (a *App) Logout() error {
	return a.Session.Clear()
}

// Whoami fetches the signed-in user and refreshes the stored profile. A
// rejected token is cleared.
func (a *App) Whoami(ctx context.Context) (*api.UserProfile, error) {
	if !a.Session.SignedIn() {
		return nil, ErrNotSignedIn
	}
	profile, err := a.Client.Me(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		if clearErr := a.Session.Clear(); clearErr != nil {
			a.Logger.Warn("clearing expired credentials failed", zap.Error(clearErr))
		}
		return nil, fmt.Errorf("session expired: %w", ErrNotSignedIn)
	}
	if err != nil {
		return nil, err
	}
	if err := a.Session.SetProfile(*profile); err != nil {
		a.Logger.Warn("storing profile failed", zap.Error(err))
	}
	return profile, nil
}

// =============================================================================
// PROMPTS
// =============================================================================

// PromptLine asks for one line of input.
func (a *App) PromptLine(prompt string) (string, error) {
	line, err := a.promptReader().ReadLine(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptPassword asks for a password without echo when stdin is a
// terminal.
func (a *App) PromptPassword(prompt string) (string, error) {
	if a.In == os.Stdin && IsTTY() {
		fmt.Fprint(a.Err, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(a.Err)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return a.promptReader().ReadLine(prompt)
}

func (a *App) promptReader() *PlainReader {
	if a.prompts == nil {
		a.prompts = NewPlainReader(a.In, a.Err)
	}
	return a.prompts
}

// PrintProfile writes the user's details.
func (a *App) PrintProfile(p *api.UserProfile) {
	fmt.Fprintln(a.Out, TitleStyle.Render(p.DisplayName()))
	fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Email:"), ValueStyle.Render(p.Email))
	if p.Role != "" {
		fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Role:"), ValueStyle.Render(p.Role))
	}
	fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("ID:"), DimStyle.Render(p.ID))
}
