package sandbox_test

import (
	"testing"

	"runcell/internal/sandbox"
	"runcell/internal/vm"
	appErr "runcell/pkg/errors"
)

func TestPolicyMatching(t *testing.T) {
	policy, err := sandbox.NewPolicy([]vm.Permission{
		{Type: vm.PermFile, Target: "/tmp/*", Action: "read,write"},
		{Type: vm.PermProperty, Target: "user.*", Action: "read"},
		{Type: vm.PermNet, Target: "*"},
	}, []string{"SecurityException", "Error"}, 0, 10)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	cases := []struct {
		perm vm.Permission
		want bool
	}{
		{vm.Permission{Type: vm.PermFile, Target: "/tmp/a.txt", Action: "read"}, true},
		{vm.Permission{Type: vm.PermFile, Target: "/tmp/a.txt", Action: "read,write"}, true},
		{vm.Permission{Type: vm.PermFile, Target: "/tmp/a.txt", Action: "delete"}, false},
		{vm.Permission{Type: vm.PermFile, Target: "/etc/passwd", Action: "read"}, false},
		{vm.Permission{Type: vm.PermProperty, Target: "user.home", Action: "read"}, true},
		{vm.Permission{Type: vm.PermProperty, Target: "os.name", Action: "read"}, false},
		{vm.Permission{Type: vm.PermNet, Target: "example.com:80", Action: "connect"}, true},
		{vm.Permission{Type: vm.PermRuntime, Target: "getenv.HOME"}, false},
	}
	for _, tc := range cases {
		if got := policy.Allows(tc.perm); got != tc.want {
			t.Fatalf("Allows(%s) = %v, want %v", tc.perm, got, tc.want)
		}
	}

	unsafe := policy.Unsafe()
	if len(unsafe) != 2 || unsafe[0] != "Error" || unsafe[1] != "SecurityException" {
		t.Fatalf("unexpected unsafe list %v", unsafe)
	}
}

func TestPolicyRejectsForbiddenGrants(t *testing.T) {
	forbidden := []vm.Permission{
		{Type: vm.PermRuntime, Target: "setIO"},
		{Type: vm.PermRuntime, Target: "exitVM.1"},
		{Type: vm.PermRuntime, Target: "exitVM.*"},
		{Type: vm.PermRuntime, Target: "*"},
		{Type: vm.PermRuntime, Target: "createClassLoader"},
		{Type: "security", Target: "setPolicy"},
	}
	for _, p := range forbidden {
		if _, err := sandbox.NewPolicy([]vm.Permission{p}, nil, 0, 10); !appErr.Is(err, appErr.UnsafePermission) {
			t.Fatalf("expected %s to be rejected, got %v", p, err)
		}
	}
	if _, err := sandbox.NewPolicy([]vm.Permission{{Type: vm.PermFile}}, nil, 0, 10); !appErr.Is(err, appErr.InvalidRunRequest) {
		t.Fatalf("expected incomplete grant to be rejected, got %v", err)
	}
}
