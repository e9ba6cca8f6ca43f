// Package tasks ships sample governance task functions. The real
// inspections belong to the host platform; these stand-ins exercise the
// pipeline end to end and show the contract a task function honors:
// read site state, report findings, never mutate content.
package tasks

import (
	"context"
	"log"
	"time"

	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/event"
	"github.com/avetrano/outpost/internal/runner"
	"github.com/avetrano/outpost/internal/schedule"
)

// RegisterSamples registers a sample function for every enabled task
// known to the scheduler's interval table.
func RegisterSamples(r *runner.Runner, cfg config.Tasks) {
	samples := map[string]runner.TaskFunc{
		"seo_health":   SEOHealth,
		"thin_content": ThinContent,
		"broken_links": BrokenLinks,
		"stale_drafts": StaleDrafts,
	}

	for name := range schedule.DefaultIntervals {
		if !cfg.IsEnabled(name) {
			continue
		}

		fn, ok := samples[name]
		if !ok {
			continue
		}

		r.Register(name, fn)
	}
}

func SEOHealth(ctx context.Context) ([]event.Finding, error) {
	log.Println("Inspecting SEO health")
	time.Sleep(100 * time.Millisecond)

	return []event.Finding{
		event.NewFinding("seo_health", event.SeverityWarning,
			"2 published posts have no meta description",
			map[string]any{"post_ids": []int{14, 27}}),
	}, nil
}

func ThinContent(ctx context.Context) ([]event.Finding, error) {
	log.Println("Scanning for thin content")
	time.Sleep(100 * time.Millisecond)

	return nil, nil
}

func BrokenLinks(ctx context.Context) ([]event.Finding, error) {
	log.Println("Checking outbound links")
	time.Sleep(100 * time.Millisecond)

	return nil, nil
}

func StaleDrafts(ctx context.Context) ([]event.Finding, error) {
	log.Println("Looking for stale drafts")
	time.Sleep(100 * time.Millisecond)

	return nil, nil
}
