// Package sandbox is a self-contained clinic REST API for demos and tests. It
// serves the same surface the front-end talks to, backed by an in-memory
// store filled with reproducible synthetic records.
package sandbox

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume and shape of generated synthetic data.
type SeedConfig struct {
	PatientCount int `json:"patientCount"`
	// IncludeClinical fills diagnosis and notes on roughly half the records.
	IncludeClinical bool  `json:"includeClinical"`
	Seed            int64 `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig with sensible demo defaults.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:    25,
		IncludeClinical: true,
	}
}

// SeedResult summarizes the output of a seed operation.
type SeedResult struct {
	Patients int           `json:"patients"`
	Users    int           `json:"users"`
	Duration time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Demo accounts
// ---------------------------------------------------------------------------

// DemoUser is a seeded account and its clear-text password.
type DemoUser struct {
	identity.Identity
	Password string
}

// DemoUsers returns the two staff accounts every sandbox starts with.
func DemoUsers() []DemoUser {
	return []DemoUser{
		{
			Identity: identity.Identity{ID: 1, Name: "Dr. John Doe", Email: "doctor@medibridge.com", Role: identity.RoleDoctor},
			Password: "doctor@#123",
		},
		{
			Identity: identity.Identity{ID: 2, Name: "Jane Smith", Email: "receptionist@medibridge.com", Role: identity.RoleReceptionist},
			Password: "reception@#123",
		},
	}
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

type codeEntry struct {
	Code    string
	Display string
}

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Christopher", "Charles", "Daniel", "Matthew",
		"Anthony", "Mark", "Donald", "Steven", "Paul", "Andrew", "Joshua",
		"Kenneth", "Kevin", "Brian", "George", "Timothy", "Ronald", "Edward",
	}
	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Barbara", "Elizabeth",
		"Susan", "Jessica", "Sarah", "Karen", "Lisa", "Nancy", "Betty",
		"Margaret", "Sandra", "Ashley", "Dorothy", "Kimberly", "Emily",
		"Donna", "Michelle", "Carol", "Amanda", "Melissa", "Deborah",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia",
		"Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez",
		"Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore",
		"Jackson", "Martin", "Lee", "Perez", "Thompson", "White", "Harris",
	}

	streets = []string{
		"123 Main St", "456 Oak Ave", "789 Elm St", "321 Pine Rd",
		"654 Maple Dr", "987 Cedar Ln", "147 Birch Blvd", "258 Walnut Way",
		"369 Cherry Ct", "741 Spruce Pl", "852 Willow Rd", "963 Ash St",
	}
	cities = []string{
		"New York", "Los Angeles", "Chicago", "Houston", "Phoenix",
		"Philadelphia", "San Antonio", "San Diego", "Dallas", "San Jose",
	}
	states = []string{
		"NY", "CA", "IL", "TX", "AZ", "PA", "TX", "CA", "TX", "CA",
	}
	zips = []string{
		"10001", "90001", "60601", "77001", "85001", "19101", "78201",
		"92101", "75201", "95101",
	}

	allergyPool = []string{
		"Penicillin", "Ibuprofen", "Aspirin", "Sulfonamides", "Latex",
		"Peanuts", "Shellfish", "Eggs", "Bee venom",
	}

	conditions = []codeEntry{
		{"E11.9", "Type 2 diabetes mellitus without complications"},
		{"I10", "Essential (primary) hypertension"},
		{"J45.909", "Unspecified asthma, uncomplicated"},
		{"E78.5", "Hyperlipidemia, unspecified"},
		{"J06.9", "Acute upper respiratory infection, unspecified"},
		{"M54.5", "Low back pain"},
		{"K21.0", "Gastro-esophageal reflux disease with esophagitis"},
		{"J20.9", "Acute bronchitis, unspecified"},
		{"E03.9", "Hypothyroidism, unspecified"},
		{"G43.909", "Migraine, unspecified, not intractable"},
		{"J30.9", "Allergic rhinitis, unspecified"},
		{"E55.9", "Vitamin D deficiency, unspecified"},
	}

	followUps = []string{
		"Follow up in 2 weeks.",
		"Recheck labs in 3 months.",
		"Continue current medication.",
		"Referred to specialist.",
		"Lifestyle counselling given.",
	}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic synthetic patient records.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) pickCode(pool []codeEntry) codeEntry {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28) // safe for all months
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("(%03d) %03d-%04d",
		200+g.rng.Intn(800),
		200+g.rng.Intn(800),
		g.rng.Intn(10000),
	)
}

func (g *DataGenerator) randomAddress() string {
	i := g.rng.Intn(len(cities))
	return fmt.Sprintf("%s, %s, %s %s", g.pick(streets), cities[i], states[i], zips[i])
}

// GeneratePatient produces the fields of a new record. Emails carry a
// counter so they stay unique within one generator.
func (g *DataGenerator) GeneratePatient() patient.NewPatient {
	g.counter++
	var firstName, gender string
	if g.rng.Intn(2) == 0 {
		firstName = g.pick(firstNamesMale)
		gender = "male"
	} else {
		firstName = g.pick(firstNamesFemale)
		gender = "female"
	}
	lastName := g.pick(lastNames)

	p := patient.NewPatient{
		FirstName:        firstName,
		LastName:         lastName,
		Email:            strings.ToLower(fmt.Sprintf("%s.%s+%d@example.com", firstName, lastName, g.counter)),
		Phone:            g.randomPhone(),
		DateOfBirth:      g.randomDate(1940, 2010),
		Gender:           gender,
		Address:          g.randomAddress(),
		EmergencyContact: g.pick(firstNamesFemale) + " " + lastName,
		EmergencyPhone:   g.randomPhone(),
		BloodGroup:       g.pick(patient.BloodGroups),
	}
	if g.rng.Intn(3) == 0 {
		p.Allergies = g.pick(allergyPool)
	}
	return p
}

// GenerateClinicalNotes produces a diagnosis and a short note.
func (g *DataGenerator) GenerateClinicalNotes() patient.ClinicalNotes {
	c := g.pickCode(conditions)
	return patient.ClinicalNotes{
		Diagnosis: fmt.Sprintf("%s (%s)", c.Display, c.Code),
		Notes:     g.pick(followUps),
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder fills a Store with demo accounts and synthetic records.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	mu        sync.Mutex
}

// NewSeeder creates a new Seeder with the given config.
func NewSeeder(config SeedConfig) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
	}
}

// Generate resets store and fills it according to config. Records are
// attributed to the first receptionist account.
func (s *Seeder) Generate(store *Store) (*SeedResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	store.Reset()

	result := &SeedResult{}
	var author, doctor uint
	for _, u := range DemoUsers() {
		if err := store.AddUser(u.Identity, u.Password); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		switch u.Role {
		case identity.RoleReceptionist:
			if author == 0 {
				author = u.ID
			}
		case identity.RoleDoctor:
			if doctor == 0 {
				doctor = u.ID
			}
		}
		result.Users++
	}

	for i := 0; i < s.config.PatientCount; i++ {
		p, err := store.Create(s.generator.GeneratePatient(), author)
		if err != nil {
			return nil, fmt.Errorf("seed patient %d: %w", i+1, err)
		}
		if s.config.IncludeClinical && s.generator.rng.Intn(2) == 0 {
			if _, err := store.Update(p.ID, patient.Demographics{}, s.generator.GenerateClinicalNotes(), doctor); err != nil {
				return nil, fmt.Errorf("seed notes %d: %w", p.ID, err)
			}
		}
		result.Patients++
	}

	result.Duration = time.Since(start)
	return result, nil
}
