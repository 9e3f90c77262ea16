package rbac

import "testing"

// allRoleSets перечисляет все загруженные подмножества ролей.
func allRoleSets() []RoleSet {
	roles := []Role{RoleAdmin, RoleCollector, RoleMember}
	var sets []RoleSet
	for mask := 0; mask < 1<<len(roles); mask++ {
		set := NewRoleSet()
		for i, r := range roles {
			if mask&(1<<i) != 0 {
				set[r] = struct{}{}
			}
		}
		sets = append(sets, set)
	}
	return sets
}

func TestCanAccessTab_AdminAlwaysSeesSystem(t *testing.T) {
	for _, set := range allRoleSets() {
		if !set.Has(RoleAdmin) {
			continue
		}
		if !CanAccessTab(set, "system") {
			t.Errorf("CanAccessTab(%v, system) = false, хотели true", set.Strings())
		}
	}
}

func TestCanAccessTab_UsersRequiresAdminOrCollector(t *testing.T) {
	for _, set := range allRoleSets() {
		if set.Has(RoleAdmin) || set.Has(RoleCollector) {
			continue
		}
		if CanAccessTab(set, "users") {
			t.Errorf("CanAccessTab(%v, users) = true, хотели false", set.Strings())
		}
	}
}

func TestCanAccessTab_UnknownTabDenied(t *testing.T) {
	unknown := []string{"", "audit", "Dashboard", "settings", "../system", "system/"}
	sets := append(allRoleSets(), nil)

	for _, tab := range unknown {
		for _, set := range sets {
			if CanAccessTab(set, tab) {
				t.Errorf("CanAccessTab(%v, %q) = true, хотели false", set.Strings(), tab)
			}
		}
	}
}

func TestCanAccessTab_NilSetFailClosed(t *testing.T) {
	for _, tab := range Tabs {
		if CanAccessTab(nil, string(tab)) {
			t.Errorf("CanAccessTab(nil, %q) = true, хотели false", tab)
		}
	}
}

func TestCanAccessTab_Table(t *testing.T) {
	tests := []struct {
		name string
		set  RoleSet
		tab  Tab
		want bool
	}{
		{"member → dashboard", NewRoleSet(RoleMember), TabDashboard, true},
		{"member → financials", NewRoleSet(RoleMember), TabFinancials, false},
		{"member → system", NewRoleSet(RoleMember), TabSystem, false},
		{"collector → users", NewRoleSet(RoleCollector), TabUsers, true},
		{"collector → financials", NewRoleSet(RoleCollector), TabFinancials, true},
		{"collector → system", NewRoleSet(RoleCollector), TabSystem, false},
		{"admin → financials", NewRoleSet(RoleAdmin), TabFinancials, true},
		{"пустой набор → dashboard", NewRoleSet(), TabDashboard, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessTab(tt.set, string(tt.tab)); got != tt.want {
				t.Errorf("CanAccessTab() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestDefaultRoute(t *testing.T) {
	tests := []struct {
		name string
		set  RoleSet
		want string
	}{
		{name: "все роли", set: NewRoleSet(RoleMember, RoleCollector, RoleAdmin), want: "/system"},
		{name: "только member", set: NewRoleSet(RoleMember), want: "/dashboard"},
		{name: "collector + member", set: NewRoleSet(RoleCollector, RoleMember), want: "/users"},
		{name: "пустой", set: NewRoleSet(), want: "/login"},
		{name: "nil", set: nil, want: "/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRoute(tt.set); got != tt.want {
				t.Errorf("DefaultRoute(%v) = %q, хотели %q", tt.set.Strings(), got, tt.want)
			}
		})
	}
}

func TestDefaultRoute_TotalOverAllSets(t *testing.T) {
	for _, set := range allRoleSets() {
		route := DefaultRoute(set)
		if route == "" {
			t.Errorf("DefaultRoute(%v) вернул пустой маршрут", set.Strings())
		}
		if set.Len() > 0 && route == LoginPath {
			t.Errorf("DefaultRoute(%v) = /login для непустого набора", set.Strings())
		}
		// Маршрут по умолчанию всегда доступен самому пользователю.
		if set.Len() > 0 && !CanAccessTab(set, string(TabFromPath(route))) {
			t.Errorf("DefaultRoute(%v) = %q недоступен пользователю", set.Strings(), route)
		}
	}
}

func TestCollectorScenario(t *testing.T) {
	set := NewRoleSet(RoleCollector)

	primary, _ := PrimaryRole(set)
	if primary != RoleCollector {
		t.Errorf("PrimaryRole = %q, хотели collector", primary)
	}
	if !CanAccessTab(set, "financials") {
		t.Error("collector должен видеть financials")
	}
	if CanAccessTab(set, "system") {
		t.Error("collector не должен видеть system")
	}
	if got := DefaultRoute(set); got != "/users" {
		t.Errorf("DefaultRoute = %q, хотели /users", got)
	}
}

func TestTabFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Tab
	}{
		{"/", TabDashboard},
		{"", TabDashboard},
		{"/dashboard", TabDashboard},
		{"/users", TabUsers},
		{"/users/42", TabUsers},
		{"/financials?year=2024", TabFinancials},
		{"/system", TabSystem},
		{"/unknown", TabDashboard},
		{"/audit", TabDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := TabFromPath(tt.path); got != tt.want {
				t.Errorf("TabFromPath(%q) = %q, хотели %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestTabPath(t *testing.T) {
	tests := []struct {
		tab  Tab
		want string
	}{
		{TabDashboard, "/"},
		{TabUsers, "/users"},
		{TabFinancials, "/financials"},
		{TabSystem, "/system"},
	}

	for _, tt := range tests {
		t.Run(string(tt.tab), func(t *testing.T) {
			if got := TabPath(tt.tab); got != tt.want {
				t.Errorf("TabPath(%q) = %q, хотели %q", tt.tab, got, tt.want)
			}
		})
	}
}

func TestVisibleTabs(t *testing.T) {
	tests := []struct {
		name string
		set  RoleSet
		want []Tab
	}{
		{"не загружен", nil, []Tab{TabDashboard}},
		{"member", NewRoleSet(RoleMember), []Tab{TabDashboard}},
		{"collector", NewRoleSet(RoleCollector), []Tab{TabDashboard, TabUsers, TabFinancials}},
		{"admin", NewRoleSet(RoleAdmin), []Tab{TabDashboard, TabUsers, TabFinancials, TabSystem}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VisibleTabs(tt.set)
			if len(got) != len(tt.want) {
				t.Fatalf("VisibleTabs() = %v, хотели %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("VisibleTabs()[%d] = %s, хотели %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReturnPath(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"/", "/", true},
		{"/users", "/users", true},
		{"/dashboard", "/dashboard", true},
		{"/system", "/system", true},
		{"", "", false},
		{"users", "", false},
		{"//evil.example/users", "", false},
		{"https://evil.example/", "", false},
		{"/users/../logout", "", false},
		{"/session/state", "", false},
	}
	for _, tt := range tests {
		got, ok := ReturnPath(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ReturnPath(%q) = %q, %v; хотели %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLoginURL(t *testing.T) {
	tests := map[string]string{
		"/users":          "/login?next=%2Fusers",
		"/":               "/login",
		"/session/events": "/login",
		"//evil.example":  "/login",
	}
	for in, want := range tests {
		if got := LoginURL(in); got != want {
			t.Errorf("LoginURL(%q) = %q, хотели %q", in, got, want)
		}
	}
}
