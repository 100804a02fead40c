// Package store keeps patients, X-ray reports and device vitals in memory.
// Durable persistence lives outside this service; the store exists so the
// HTTP layer can hand out stable identifiers within a process.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lungai/internal/xray"
)

type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"created_at"`
}

type Report struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patient_id"`
	ImagePath   string            `json:"image_path"`
	Prediction  string            `json:"prediction"`
	Confidence  float64           `json:"confidence"`
	Severity    xray.SeverityTier `json:"severity"`
	HeatmapPath string            `json:"heatmap_path,omitempty"`
	DemoMode    bool              `json:"demo_mode"`
	CreatedAt   time.Time         `json:"created_at"`
}

type Vitals struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	SpO2        float64   `json:"spo2"`
	Temperature float64   `json:"temperature"`
	HeartRate   int       `json:"heart_rate"`
	DeviceID    string    `json:"device_id,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Memory is a mutex-guarded in-process store.
type Memory struct {
	mu       sync.RWMutex
	patients map[string]Patient
	reports  map[string]Report
	vitals   map[string][]Vitals
}

func NewMemory() *Memory {
	return &Memory{
		patients: make(map[string]Patient),
		reports:  make(map[string]Report),
		vitals:   make(map[string][]Vitals),
	}
}

func (m *Memory) AddPatient(name string, age int, gender string) Patient {
	p := Patient{ID: uuid.NewString(), Name: name, Age: age, Gender: gender, CreatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.patients[p.ID] = p
	m.mu.Unlock()
	return p
}

func (m *Memory) Patient(id string) (Patient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	return p, ok
}

func (m *Memory) AddReport(r Report) Report {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	m.mu.Lock()
	m.reports[r.ID] = r
	m.mu.Unlock()
	return r
}

func (m *Memory) Report(id string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	return r, ok
}

// ReportsFor lists a patient's reports, newest first.
func (m *Memory) ReportsFor(patientID string) []Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Report
	for _, r := range m.reports {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// LatestReport returns a patient's most recent report.
func (m *Memory) LatestReport(patientID string) (Report, bool) {
	reports := m.ReportsFor(patientID)
	if len(reports) == 0 {
		return Report{}, false
	}
	return reports[0], true
}

func (m *Memory) AddVitals(v Vitals) Vitals {
	v.ID = uuid.NewString()
	v.RecordedAt = time.Now().UTC()
	m.mu.Lock()
	m.vitals[v.PatientID] = append(m.vitals[v.PatientID], v)
	m.mu.Unlock()
	return v
}

// LatestVitals returns the most recently recorded vitals for a patient.
func (m *Memory) LatestVitals(patientID string) (Vitals, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs := m.vitals[patientID]
	if len(vs) == 0 {
		return Vitals{}, false
	}
	return vs[len(vs)-1], true
}
