// Package firebase adapts Firebase Authentication and Cloud Firestore to the
// service's identity and persistence contracts.
package firebase

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Config selects the Firebase project. CredentialsFile may be empty when
// running with application default credentials or against the emulators.
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// NewApp initializes the Firebase app shared by Auth and Store.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase: project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}
