package cache

import "testing"

func TestStrategyLifecycle(t *testing.T) {
	repos, err := NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	repos.SetStrategy("local", []byte(`{"plugin":"auth","strategy":"local"}`))
	repos.SetStrategy("oauth", []byte(`{"plugin":"auth","strategy":"oauth"}`))

	names := repos.StrategyNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 strategies, got %v", names)
	}

	repos.RemoveStrategy("oauth")
	names = repos.StrategyNames()
	if len(names) != 1 || names[0] != "local" {
		t.Fatalf("expected only 'local' to remain, got %v", names)
	}
}

func TestInvalidateProfileAndRole(t *testing.T) {
	repos, err := NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	repos.Profiles.Add("p1", "cached-profile")
	repos.Roles.Add("r1", "cached-role")

	repos.InvalidateProfile("p1")
	if _, ok := repos.Profiles.Get("p1"); ok {
		t.Fatalf("expected profile p1 evicted")
	}

	repos.InvalidateRole("r1")
	if _, ok := repos.Roles.Get("r1"); ok {
		t.Fatalf("expected role r1 evicted")
	}
}

func TestReloadValidatorsPurges(t *testing.T) {
	repos, err := NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	repos.Validators.Add("spec", "cached-spec")
	repos.ReloadValidators()
	if repos.Validators.Len() != 0 {
		t.Fatalf("expected validators cache purged")
	}
}
