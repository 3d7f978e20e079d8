package logging

import "time"

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// Keys shared by every component that logs about a simulation.
const (
	KeySessionID     = "session_id"
	KeyCaseID        = "case_id"
	KeyTrainID       = "train_id"
	KeyDecisionPoint = "decision_point"
	KeyTick          = "tick"
	KeySimMinutes    = "sim_minutes"
	KeyRequestID     = "request_id"
)

// Constructors for plain values.
func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Float(key string, value float64) Field          { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field              { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field                { return Field{Key: key, Value: value} }

// Err records err under "error". A nil error logs as an empty string.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// SessionID tags a record with the simulation session it belongs to.
func SessionID(id string) Field { return String(KeySessionID, id) }

// CaseID tags a record with a case definition.
func CaseID(id string) Field { return String(KeyCaseID, id) }

// TrainID tags a record with one train of the roster.
func TrainID(id string) Field { return String(KeyTrainID, id) }

// DecisionPoint tags a record with the gate a train is held at.
func DecisionPoint(id string) Field { return String(KeyDecisionPoint, id) }

// Tick tags a record with the engine tick count.
func Tick(n int) Field { return Int(KeyTick, n) }

// SimMinutes tags a record with elapsed simulated time.
func SimMinutes(m float64) Field { return Float(KeySimMinutes, m) }

// Session returns the pair of fields that identify a running session.
func Session(sessionID, caseID string) []Field {
	return []Field{SessionID(sessionID), CaseID(caseID)}
}
