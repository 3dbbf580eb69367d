package ctf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/data/repos/testutil"
)

const challengeYAML = `kind: challenge
id: loader_prompt_leak
title: Leak the system prompt
category: prompt_injection
difficulty: easy
points: 100
detector:
  class: prompt_leak
  config:
    patterns:
      - "system prompt"
`

const badgeYAML = `kind: badge
id: loader_vendor_wrangler
title: Vendor Wrangler
rarity: rare
evaluator:
  class: vendor_count
  config:
    min_count: 5
`

func writeDef(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDirUpsertsDefinitions(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	defs := ctfrepos.NewDefinitionRepo(db, log)
	dir := t.TempDir()
	ctx := context.Background()

	writeDef(t, dir, "loader_prompt_leak.yaml", challengeYAML)
	writeDef(t, dir, "vendor_wrangler.yaml", badgeYAML)
	writeDef(t, dir, "notes.txt", "not a definition")

	loader := NewLoader(log, defs, newRegistry(t), dir)
	res, err := loader.LoadDir(ctx)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if res.Challenges != 1 || res.Badges != 1 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	def, err := defs.GetChallenge(ctx, nil, "loader_prompt_leak")
	if err != nil || def == nil {
		t.Fatalf("challenge not stored: %v", err)
	}
	if def.DetectorClass != "prompt_leak" || !def.Active {
		t.Fatalf("stored challenge wrong: %+v", def)
	}

	// Reload is idempotent; a changed file overwrites under the same slug.
	writeDef(t, dir, "loader_prompt_leak.yaml", challengeYAML+"description: updated copy\n")
	if _, err := loader.LoadDir(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	def, err = defs.GetChallenge(ctx, nil, "loader_prompt_leak")
	if err != nil || def == nil {
		t.Fatalf("challenge missing after reload: %v", err)
	}
	if def.Description != "updated copy" {
		t.Fatalf("reload did not overwrite, description = %q", def.Description)
	}
	rows, err := defs.ListActiveChallenges(ctx, nil)
	if err != nil {
		t.Fatalf("ListActiveChallenges: %v", err)
	}
	var count int
	for _, r := range rows {
		if r.ID == "loader_prompt_leak" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("reload duplicated definitions: %d rows", count)
	}
}

func TestLoadDirRejectsInvalidFiles(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	defs := ctfrepos.NewDefinitionRepo(db, log)
	dir := t.TempDir()
	ctx := context.Background()

	// Uppercase id, bad category, bad detector config, unknown kind.
	writeDef(t, dir, "bad_id.yaml", "kind: challenge\nid: Bad-ID\ntitle: x\ncategory: prompt_injection\ndifficulty: easy\ndetector:\n  class: prompt_leak\n")
	writeDef(t, dir, "bad_category.yaml", "kind: challenge\nid: bad_category\ntitle: x\ncategory: nonsense\ndifficulty: easy\ndetector:\n  class: prompt_leak\n")
	writeDef(t, dir, "bad_config.yaml", "kind: challenge\nid: bad_config\ntitle: x\ncategory: prompt_injection\ndifficulty: easy\ndetector:\n  class: prompt_leak\n")
	writeDef(t, dir, "bad_kind.yaml", "kind: trophy\nid: bad_kind\ntitle: x\n")
	writeDef(t, dir, "good.yaml", badgeYAML)

	loader := NewLoader(log, defs, newRegistry(t), dir)
	res, err := loader.LoadDir(ctx)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if res.Badges != 1 || res.Challenges != 0 {
		t.Fatalf("unexpected accept counts: %+v", res)
	}
	if len(res.Skipped) != 4 {
		t.Fatalf("skipped = %v, want 4 rejects", res.Skipped)
	}
	if ch, _ := defs.GetChallenge(ctx, nil, "bad_config"); ch != nil {
		t.Fatalf("invalid definition must not be stored")
	}
}

func TestLoadDirStoresInertUnknownClass(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	defs := ctfrepos.NewDefinitionRepo(db, log)
	dir := t.TempDir()
	ctx := context.Background()

	writeDef(t, dir, "future.yaml", "kind: challenge\nid: future_class\ntitle: x\ncategory: business_logic\ndifficulty: hard\ndetector:\n  class: not_shipped_yet\n")

	loader := NewLoader(log, defs, newRegistry(t), dir)
	res, err := loader.LoadDir(ctx)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if res.Challenges != 1 {
		t.Fatalf("unregistered class should still be stored: %+v", res)
	}
}
