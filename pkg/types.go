package pkg

import (
    "encoding/json"
    "fmt"
)

// CarePlan is one entry of a patient's inpatient care plan record.  Addresses
// lists the health issues the plan covers and Goal the treatment goals.
type CarePlan struct {
    Addresses []string   `json:"Addresses"`
    Goal      StringList `json:"Goal"`
}

// StringList accepts either a single JSON string or an array of strings.
// Upstream EHR exports are not consistent about the Goal field.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
    if string(data) == "null" {
        *l = nil
        return nil
    }
    var single string
    if err := json.Unmarshal(data, &single); err == nil {
        *l = StringList{single}
        return nil
    }
    var many []string
    if err := json.Unmarshal(data, &many); err != nil {
        return fmt.Errorf("goal must be a string or a list of strings: %w", err)
    }
    *l = many
    return nil
}

// PatientSummary is the structured summary posted by the gateway.  Only the
// care plans are used for advice; the rest of the document is accepted and
// ignored.
type PatientSummary struct {
    InpatientCarePlansRecord []CarePlan `json:"inpatientCarePlansRecord"`
}

// AdviceRequest is the body of POST /advice.
type AdviceRequest struct {
    Summary *PatientSummary `json:"summary"`
}

// AdviceResponse carries the generated advice, one "- " prefixed line per
// piece of advice.
type AdviceResponse struct {
    Advice string `json:"advice"`
}

// NotesResponse is returned by GET /notes.
type NotesResponse struct {
    Page  int      `json:"page"`
    Size  int      `json:"size"`
    Total int      `json:"total"`
    Notes []string `json:"notes"`
}

// PageEvent is published whenever a page of SOAP notes has been generated.
type PageEvent struct {
    Page  int `json:"page"`
    Size  int `json:"size"`
    Notes int `json:"notes"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
    Error string `json:"error"`
}
