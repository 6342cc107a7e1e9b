package main

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/sandbox"
)

const (
	doctorEmail          = "doctor@medibridge.com"
	doctorPassword       = "doctor@#123"
	receptionistEmail    = "receptionist@medibridge.com"
	receptionistPassword = "reception@#123"
)

type cliEnv struct {
	api         *sandbox.Server
	sessionFile string
}

// setupCLI points the commands at a fresh sandbox and a throwaway session
// file.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	api, e, err := sandbox.New(sandbox.Config{
		SigningKey: []byte("cli-test-signing-key"),
		Seed:       sandbox.SeedConfig{PatientCount: 12, IncludeClinical: true, Seed: 3},
		BcryptCost: bcrypt.MinCost,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })

	sessionFile := filepath.Join(dir, "session.json")
	t.Setenv("API_BASE_URL", ts.URL)
	t.Setenv("API_TIMEOUT", "5s")
	t.Setenv("SESSION_FILE", sessionFile)
	return &cliEnv{api: api, sessionFile: sessionFile}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustLogin(t *testing.T, email, password string) {
	t.Helper()
	if _, stderr, err := runCLI(t, "", "login", "--email", email, "--password", password); err != nil {
		t.Fatalf("login %s: %v (%s)", email, err, stderr)
	}
}

// ---------------------------------------------------------------------------
// Session commands
// ---------------------------------------------------------------------------

func TestLoginWhoamiLogout(t *testing.T) {
	env := setupCLI(t)

	out, _, err := runCLI(t, "", "login", "-e", doctorEmail, "-p", doctorPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Logged in as Dr. John Doe (doctor)") {
		t.Errorf("login output = %q", out)
	}
	if _, err := os.Stat(env.sessionFile); err != nil {
		t.Fatalf("session file not written: %v", err)
	}

	out, _, err = runCLI(t, "", "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if strings.TrimSpace(out) != "Dr. John Doe <doctor@medibridge.com> doctor" {
		t.Errorf("whoami output = %q", out)
	}

	out, _, err = runCLI(t, "", "logout")
	if err != nil || !strings.Contains(out, "Logged out") {
		t.Fatalf("logout: %v %q", err, out)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Errorf("session file still present: %v", err)
	}

	_, _, err = runCLI(t, "", "whoami")
	if !errors.Is(err, errNotLoggedIn) {
		t.Errorf("whoami after logout: %v", err)
	}
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	setupCLI(t)

	out, stderr, err := runCLI(t, receptionistPassword+"\n", "login", "--email", receptionistEmail)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(stderr, "Password:") {
		t.Errorf("expected a prompt, stderr = %q", stderr)
	}
	if !strings.Contains(out, "Jane Smith (receptionist)") {
		t.Errorf("login output = %q", out)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupCLI(t)

	_, stderr, err := runCLI(t, "", "login", "--email", doctorEmail, "--password", "wrong")
	if err == nil {
		t.Fatal("expected login to fail")
	}
	if err.Error() != "Invalid credentials" {
		t.Errorf("error = %q", err)
	}
	if stderr != "" {
		t.Errorf("failed login should not print a notice, stderr = %q", stderr)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Error("failed login wrote a session")
	}
}

func TestLogin_RequiresEmail(t *testing.T) {
	setupCLI(t)

	if _, _, err := runCLI(t, "", "login", "--password", "x"); err == nil {
		t.Fatal("expected missing --email to fail")
	}
}

// ---------------------------------------------------------------------------
// Patient commands
// ---------------------------------------------------------------------------

func TestPatients_RequireLogin(t *testing.T) {
	setupCLI(t)

	_, _, err := runCLI(t, "", "patients", "list")
	if !errors.Is(err, errNotLoggedIn) {
		t.Errorf("error = %v, want not logged in", err)
	}
}

func TestPatientsList_Receptionist(t *testing.T) {
	setupCLI(t)
	mustLogin(t, receptionistEmail, receptionistPassword)

	out, _, err := runCLI(t, "", "patients", "list", "--limit", "5")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "EMAIL") || strings.Contains(out, "DIAGNOSIS") {
		t.Errorf("receptionist table header wrong:\n%s", out)
	}
	if !strings.Contains(out, "Page 1 of 3, 12 patients") {
		t.Errorf("missing page footer:\n%s", out)
	}
}

func TestPatientsList_DoctorJSON(t *testing.T) {
	setupCLI(t)
	mustLogin(t, doctorEmail, doctorPassword)

	out, _, err := runCLI(t, "", "patients", "list", "--page", "2", "--limit", "10", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data       []patient.Patient `json:"data"`
		Pagination struct {
			Total      int `json:"total"`
			Page       int `json:"page"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Pagination.Total != 12 || resp.Pagination.Page != 2 || resp.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
	if len(resp.Data) != 2 {
		t.Errorf("page 2 has %d records, want 2", len(resp.Data))
	}
}

func TestPatients_CreateUpdateDelete(t *testing.T) {
	setupCLI(t)
	mustLogin(t, receptionistEmail, receptionistPassword)

	out, stderr, err := runCLI(t, "", "patients", "create",
		"--first-name", "Ada", "--last-name", "Lovelace",
		"--email", "ada@example.com", "--phone", "555-0100",
		"--dob", "1990-12-10", "--gender", "female",
		"--address", "12 St James's Square",
		"--emergency-contact", "Charles Babbage", "--emergency-phone", "555-0101",
		"--blood-group", "O+")
	if err != nil {
		t.Fatalf("create: %v (%s)", err, stderr)
	}
	if !strings.Contains(out, patient.MsgCreated) || !strings.Contains(out, "(id 13)") {
		t.Errorf("create output = %q", out)
	}

	if _, _, err := runCLI(t, "", "patients", "update", "13", "--phone", "555-0199"); err != nil {
		t.Fatalf("update: %v", err)
	}
	out, _, err = runCLI(t, "", "patients", "show", "13")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "555-0199") || !strings.Contains(out, "Ada Lovelace") {
		t.Errorf("show output:\n%s", out)
	}
	if strings.Contains(out, "Diagnosis:") {
		t.Errorf("receptionist should not see clinical fields:\n%s", out)
	}

	if _, _, err := runCLI(t, "", "patients", "delete", "13"); err == nil {
		t.Error("delete without --yes should fail")
	}
	out, _, err = runCLI(t, "", "patients", "delete", "13", "--yes")
	if err != nil || !strings.Contains(out, patient.MsgDeleted) {
		t.Fatalf("delete: %v %q", err, out)
	}

	_, stderr, err = runCLI(t, "", "patients", "show", "13")
	var reported *reportedError
	if !errors.As(err, &reported) {
		t.Fatalf("show deleted record: err = %v", err)
	}
	if !strings.Contains(stderr, "error") {
		t.Errorf("expected an error notice, stderr = %q", stderr)
	}
}

func TestPatientsCreate_ValidationError(t *testing.T) {
	setupCLI(t)
	mustLogin(t, receptionistEmail, receptionistPassword)

	_, _, err := runCLI(t, "", "patients", "create", "--first-name", "Ada")
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	var reported *reportedError
	if errors.As(err, &reported) {
		t.Error("validation errors are not API notices")
	}
}

func TestPatientsUpdate_NothingToSend(t *testing.T) {
	setupCLI(t)
	mustLogin(t, receptionistEmail, receptionistPassword)

	_, _, err := runCLI(t, "", "patients", "update", "1")
	if err == nil || !strings.Contains(err.Error(), "nothing to update") {
		t.Errorf("error = %v", err)
	}
}

func TestPatientsNotes_Doctor(t *testing.T) {
	setupCLI(t)
	mustLogin(t, doctorEmail, doctorPassword)

	out, _, err := runCLI(t, "", "patients", "notes", "1", "-d", "Hypertension", "-n", "Follow up in two weeks")
	if err != nil || !strings.Contains(out, patient.MsgNotesUpdated) {
		t.Fatalf("notes: %v %q", err, out)
	}

	out, _, err = runCLI(t, "", "patients", "show", "1", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rec patient.Patient
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Diagnosis != "Hypertension" || rec.Notes != "Follow up in two weeks" {
		t.Errorf("clinical fields = %q %q", rec.Diagnosis, rec.Notes)
	}
}

func TestPatients_RoleRestrictions(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		args     []string
		role     string
	}{
		{"doctor cannot create", doctorEmail, doctorPassword, []string{"patients", "create", "--first-name", "X"}, "doctor"},
		{"doctor cannot delete", doctorEmail, doctorPassword, []string{"patients", "delete", "1", "--yes"}, "doctor"},
		{"receptionist cannot write notes", receptionistEmail, receptionistPassword, []string{"patients", "notes", "1", "-d", "Flu"}, "receptionist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCLI(t)
			mustLogin(t, tt.email, tt.password)

			_, _, err := runCLI(t, "", tt.args...)
			if err == nil {
				t.Fatal("expected the command to be refused")
			}
			if !strings.Contains(err.Error(), "not available to the "+tt.role+" role") {
				t.Errorf("error = %q", err)
			}
		})
	}
}

func TestPatients_InvalidID(t *testing.T) {
	setupCLI(t)
	mustLogin(t, doctorEmail, doctorPassword)

	for _, arg := range []string{"0", "abc", "-4"} {
		_, _, err := runCLI(t, "", "patients", "show", "--", arg)
		if err == nil || err.Error() != patient.MsgInvalidID {
			t.Errorf("show %s: error = %v", arg, err)
		}
	}
}

func TestPatients_SessionExpired(t *testing.T) {
	env := setupCLI(t)
	mustLogin(t, doctorEmail, doctorPassword)

	// Users vanish, so the saved token no longer validates.
	env.api.Store().Reset()

	_, _, err := runCLI(t, "", "patients", "list")
	if !errors.Is(err, errSessionExpired) {
		t.Errorf("error = %v, want session expired", err)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Error("rejected session was not cleared")
	}
}
