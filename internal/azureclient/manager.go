// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package azureclient

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager holds the credential shared by every blob client it creates.
type Manager struct {
	cred   azcore.TokenCredential
	tracer trace.Tracer
}

type ManagerOption func(*Manager)

// WithCredential overrides the default Azure credential chain.
func WithCredential(cred azcore.TokenCredential) ManagerOption {
	return func(m *Manager) {
		m.cred = cred
	}
}

// NewManager resolves credentials with the default Azure chain
// (environment, workload identity, managed identity, CLI).
func NewManager(opts ...ManagerOption) (*Manager, error) {
	mgr := &Manager{
		tracer: otel.Tracer("github.com/cardinalhq/spanrunner/internal/azureclient"),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	if mgr.cred == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("loading Azure credentials: %w", err)
		}
		mgr.cred = cred
	}
	return mgr, nil
}
