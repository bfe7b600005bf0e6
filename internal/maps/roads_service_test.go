package maps

import (
	"context"
	"testing"

	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/types"
)

func TestRoadsService_RejectsShortPolylineWithoutCallingAPI(t *testing.T) {
	svc, err := NewRoadsService("test-key")
	if err != nil {
		t.Fatalf("new roads service: %v", err)
	}
	single := pathmatch.Encode([]types.Coordinates{{Lat: 25.03, Lng: 121.56}})
	if _, err := svc.Match(context.Background(), single, "motorcycle"); err == nil {
		t.Fatalf("expected error for a single-point polyline")
	}
}
