package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibridge/clinic/internal/config"
	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/events"
	"github.com/medibridge/clinic/internal/platform/gate"
	"github.com/medibridge/clinic/internal/platform/navigation"
	"github.com/medibridge/clinic/internal/platform/notice"
	"github.com/medibridge/clinic/internal/platform/session"
	"github.com/medibridge/clinic/pkg/pagination"
)

// patientsScreen is the gate path of the patient commands.
const patientsScreen = "/cli/patients"

var (
	errNotLoggedIn    = errors.New("not logged in, run 'clinic login' first")
	errSessionExpired = errors.New("session expired, run 'clinic login' again")
)

// reportedError is a failure whose notice was already printed.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// ---------------------------------------------------------------------------
// Client instance
// ---------------------------------------------------------------------------

// cliSession is the client instance of one command run. Its session lives
// in a file so it survives between runs.
type cliSession struct {
	store    *session.Store
	nav      *navigation.Listener
	patients *patient.Service
	unsub    func()
}

func openSession(cmd *cobra.Command) (*cliSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := zerolog.WarnLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		With().Timestamp().Logger().Level(level)

	path := cfg.SessionFile
	if path == "" {
		path = session.DefaultFilePath()
	}

	bus := events.NewBus()
	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
	}, bus, logger)
	if err != nil {
		return nil, err
	}
	store := session.New(client, session.NewFileStore(path), bus, logger)
	s := &cliSession{
		store:    store,
		nav:      navigation.NewListener(bus, store.Identity),
		patients: patient.NewService(client),
		unsub:    notice.WriteTo(bus, cmd.ErrOrStderr()),
	}
	store.Initialize(cmd.Context())
	return s, nil
}

func (s *cliSession) Close() {
	s.unsub()
	s.nav.Close()
	s.store.Close()
}

// authorize applies the gate to a command limited to roles.
func (s *cliSession) authorize(roles ...identity.Role) (identity.Identity, error) {
	out := gate.Decide(s.store, patientsScreen, roles...)
	switch out.Decision {
	case gate.Render:
		id, _ := s.store.Identity()
		return id, nil
	case gate.RedirectToLogin:
		if r, ok := s.nav.Take(); ok && r.Reason == navigation.ReasonSessionExpired {
			return identity.Identity{}, errSessionExpired
		}
		return identity.Identity{}, errNotLoggedIn
	}
	id, _ := s.store.Identity()
	return identity.Identity{}, fmt.Errorf("not available to the %s role", id.Role)
}

// failure turns a failed call into the command's error. A pending redirect
// explains lost sessions; other API errors were already printed as notices.
func (s *cliSession) failure(err error) error {
	if r, ok := s.nav.Take(); ok && r.Reason == navigation.ReasonSessionExpired {
		return &reportedError{errSessionExpired}
	}
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return &reportedError{err}
	}
	return err
}

func withSession(fn func(cmd *cobra.Command, s *cliSession, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

// ---------------------------------------------------------------------------
// Session commands
// ---------------------------------------------------------------------------

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, _ []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			res := s.store.Login(cmd.Context(), strings.TrimSpace(email), password)
			if !res.OK {
				return errors.New(res.Reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", res.Identity.Name, res.Identity.Role)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password, read from stdin when omitted")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, _ []string) error {
			if err := s.store.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		}),
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, _ []string) error {
			id, ok := s.store.Identity()
			if !ok {
				return errNotLoggedIn
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s\n", id.Name, id.Email, id.Role)
			return nil
		}),
	}
}

// ---------------------------------------------------------------------------
// Patient commands
// ---------------------------------------------------------------------------

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patients",
		Aliases: []string{"patient"},
		Short:   "Work with patient records",
	}
	cmd.AddCommand(patientsListCmd())
	cmd.AddCommand(patientsShowCmd())
	cmd.AddCommand(patientsCreateCmd())
	cmd.AddCommand(patientsUpdateCmd())
	cmd.AddCommand(patientsNotesCmd())
	cmd.AddCommand(patientsDeleteCmd())
	return cmd
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New(patient.MsgInvalidID)
	}
	return uint(id), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func patientsListCmd() *cobra.Command {
	var p pagination.Params
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patients a page at a time",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, _ []string) error {
			id, err := s.authorize(identity.RoleReceptionist, identity.RoleDoctor)
			if err != nil {
				return err
			}
			listing, err := s.patients.List(cmd.Context(), id.Role, p)
			if err != nil {
				return s.failure(err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, &pagination.Response{Data: listing.Items, Pagination: listing.Meta()})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			now := time.Now()
			if id.Role == identity.RoleDoctor {
				fmt.Fprintln(tw, "ID\tNAME\tAGE\tGENDER\tDIAGNOSIS")
				for _, rec := range listing.Items {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", rec.ID, rec.FullName(), rec.DateOfBirth.Age(now), rec.Gender, rec.Diagnosis)
				}
			} else {
				fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tPHONE\tAGE\tGENDER")
				for _, rec := range listing.Items {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", rec.ID, rec.FullName(), rec.Email, rec.Phone, rec.DateOfBirth.Age(now), rec.Gender)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Page %d of %d, %d patients\n", listing.Page, listing.TotalPages, listing.Total)
			return nil
		}),
	}
	cmd.Flags().IntVar(&p.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&p.Limit, "limit", pagination.DefaultLimit, "records per page")
	cmd.Flags().StringVarP(&p.Search, "search", "s", "", "filter by name or email")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw page as JSON")
	return cmd
}

func patientsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one patient record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, args []string) error {
			pid, err := parseID(args[0])
			if err != nil {
				return err
			}
			id, err := s.authorize(identity.RoleReceptionist, identity.RoleDoctor)
			if err != nil {
				return err
			}
			rec, err := s.patients.Get(cmd.Context(), id.Role, pid)
			if err != nil {
				return s.failure(err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			printPatient(cmd.OutOrStdout(), rec, id.Role == identity.RoleDoctor)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func printPatient(w io.Writer, rec *patient.Patient, clinical bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("ID", strconv.FormatUint(uint64(rec.ID), 10))
	row("Name", rec.FullName())
	row("Email", rec.Email)
	row("Phone", rec.Phone)
	row("Date of birth", fmt.Sprintf("%s (age %d)", rec.DateOfBirth, rec.DateOfBirth.Age(time.Now())))
	row("Gender", rec.Gender)
	row("Address", rec.Address)
	row("Emergency contact", strings.TrimSpace(rec.EmergencyContact+" "+rec.EmergencyPhone))
	row("Blood group", rec.BloodGroup)
	row("Allergies", rec.Allergies)
	if clinical {
		row("Diagnosis", rec.Diagnosis)
		row("Notes", rec.Notes)
	}
	_ = tw.Flush()
}

// demographicFlags binds one flag per demographic field.
func demographicFlags(cmd *cobra.Command, d *patient.Demographics) {
	f := cmd.Flags()
	f.StringVar(&d.FirstName, "first-name", "", "first name")
	f.StringVar(&d.LastName, "last-name", "", "last name")
	f.StringVar(&d.Email, "email", "", "email address")
	f.StringVar(&d.Phone, "phone", "", "phone number")
	f.StringVar(&d.DateOfBirth, "dob", "", "date of birth, YYYY-MM-DD")
	f.StringVar(&d.Gender, "gender", "", "male, female or other")
	f.StringVar(&d.Address, "address", "", "postal address")
	f.StringVar(&d.EmergencyContact, "emergency-contact", "", "emergency contact name")
	f.StringVar(&d.EmergencyPhone, "emergency-phone", "", "emergency contact phone")
	f.StringVar(&d.BloodGroup, "blood-group", "", "blood group, e.g. O+")
	f.StringVar(&d.Allergies, "allergies", "", "known allergies")
}

func patientsCreateCmd() *cobra.Command {
	var d patient.Demographics
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new patient",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, _ []string) error {
			if _, err := s.authorize(identity.RoleReceptionist); err != nil {
				return err
			}
			rec, err := s.patients.Create(cmd.Context(), patient.NewPatient(d))
			if err != nil {
				return s.failure(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d)\n", patient.MsgCreated, rec.ID)
			return nil
		}),
	}
	demographicFlags(cmd, &d)
	return cmd
}

func patientsUpdateCmd() *cobra.Command {
	var d patient.Demographics
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change demographic fields of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, args []string) error {
			pid, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := s.authorize(identity.RoleReceptionist); err != nil {
				return err
			}
			if d.Empty() {
				return errors.New("nothing to update, pass at least one field flag")
			}
			if _, err := s.patients.UpdateDemographics(cmd.Context(), pid, d); err != nil {
				return s.failure(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), patient.MsgUpdated)
			return nil
		}),
	}
	demographicFlags(cmd, &d)
	return cmd
}

func patientsNotesCmd() *cobra.Command {
	var n patient.ClinicalNotes
	cmd := &cobra.Command{
		Use:   "notes ID",
		Short: "Record a diagnosis and clinical notes",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, args []string) error {
			pid, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := s.authorize(identity.RoleDoctor); err != nil {
				return err
			}
			if _, err := s.patients.UpdateClinicalNotes(cmd.Context(), pid, n); err != nil {
				return s.failure(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), patient.MsgNotesUpdated)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&n.Diagnosis, "diagnosis", "d", "", "diagnosis")
	cmd.Flags().StringVarP(&n.Notes, "notes", "n", "", "clinical notes")
	_ = cmd.MarkFlagRequired("diagnosis")
	return cmd
}

func patientsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a patient record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, s *cliSession, args []string) error {
			pid, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := s.authorize(identity.RoleReceptionist); err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete patient %d without --yes", pid)
			}
			if err := s.patients.Delete(cmd.Context(), pid); err != nil {
				return s.failure(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), patient.MsgDeleted)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	return cmd
}
