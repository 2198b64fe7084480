package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bullishbrief/briefauth"
	"github.com/bullishbrief/briefauth/identity"
)

const (
	cmdResend = ":resend"
	cmdBack   = ":back"
)

var errInputClosed = errors.New("input closed before the flow finished")

// runFlow drives one flow from line-oriented input until the reader is
// authenticated, the input ends, or the provider refuses in a way a retry
// cannot fix.
func runFlow(ctx context.Context, engine *briefauth.Engine, purpose briefauth.Purpose, in io.Reader, out io.Writer, preset briefauth.Credentials) (*identity.User, error) {
	var user *identity.User
	flow := engine.NewFlow(purpose, func(u *identity.User) { user = u })
	defer flow.Close()

	lines := bufio.NewScanner(in)
	creds := preset
	codeLength := engine.Config().Flow.CodeLength

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := flow.Snapshot()
		switch snap.State {
		case briefauth.StateAuthenticated:
			if user == nil {
				user = engine.Sessions().CurrentUser()
			}
			if user == nil {
				return nil, errors.New("authenticated without a session user")
			}
			return user, nil

		case briefauth.StateCredentials:
			if creds.Email == "" {
				v, ok := prompt(lines, out, "Email: ")
				if !ok {
					return nil, errInputClosed
				}
				creds.Email = v
			}
			if purpose == briefauth.PurposeSignUp && creds.Username == "" {
				v, ok := prompt(lines, out, "Username: ")
				if !ok {
					return nil, errInputClosed
				}
				creds.Username = v
			}

			err := flow.SubmitCredentials(ctx, creds)
			switch {
			case err == nil:
				fmt.Fprintln(out, flow.Snapshot().Outcome.Success)
			case errors.Is(err, briefauth.ErrValidation):
				printFieldErrors(out, flow.Snapshot().FieldErrors)
				creds = briefauth.Credentials{}
			case errors.Is(err, briefauth.ErrSubmissionFailed):
				msg := flow.Snapshot().Outcome.Error
				if !briefauth.IsRecoverableError(msg) {
					return nil, errors.New(msg)
				}
				fmt.Fprintln(out, msg)
				creds = briefauth.Credentials{}
			default:
				return nil, err
			}

		case briefauth.StateOTPEntry:
			v, ok := prompt(lines, out, fmt.Sprintf("%d-digit code (%s, %s): ", codeLength, cmdResend, cmdBack))
			if !ok {
				return nil, errInputClosed
			}
			switch v {
			case cmdResend:
				if err := flow.Resend(ctx); err != nil {
					if !errors.Is(err, briefauth.ErrSubmissionFailed) {
						return nil, err
					}
					fmt.Fprintln(out, flow.Snapshot().Outcome.Error)
					continue
				}
				fmt.Fprintln(out, flow.Snapshot().Outcome.Success)
			case cmdBack:
				if err := flow.Back(); err != nil {
					return nil, err
				}
				creds = briefauth.Credentials{}
			default:
				err := flow.SubmitCode(ctx, v)
				switch {
				case err == nil:
				case errors.Is(err, briefauth.ErrCodeIncomplete):
					fmt.Fprintf(out, "Enter all %d digits.\n", codeLength)
				case errors.Is(err, briefauth.ErrSubmissionFailed):
					fmt.Fprintln(out, flow.Snapshot().Outcome.Error)
				default:
					return nil, err
				}
			}
		}
	}
}

func prompt(lines *bufio.Scanner, out io.Writer, label string) (string, bool) {
	fmt.Fprint(out, label)
	if !lines.Scan() {
		return "", false
	}
	return strings.TrimSpace(lines.Text()), true
}

func printFieldErrors(out io.Writer, fieldErrors briefauth.FieldErrors) {
	fields := make([]string, 0, len(fieldErrors))
	for field := range fieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(out, "%s: %s\n", field, fieldErrors[field])
	}
}
