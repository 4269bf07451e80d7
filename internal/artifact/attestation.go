package artifact

const (
	// StatementType is the in-toto statement type.
	StatementType = "https://in-toto.io/Statement/v1"
	// PredicateType is the SLSA provenance predicate type.
	PredicateType = "https://slsa.dev/provenance/v0.2"
	// BuildType describes how a patch was produced.
	BuildType = "https://github.com/ppiankov/dualane/codex-patch@v1"
)

// Attestation is an in-toto statement with a SLSA-shaped provenance
// predicate for one patch.
type Attestation struct {
	Type          string    `json:"_type"`
	PredicateType string    `json:"predicateType"`
	Subject       []Subject `json:"subject"`
	Predicate     Predicate `json:"predicate"`
}

// Subject names an attested artifact and its digest.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// Predicate describes the build.
type Predicate struct {
	BuildType  string     `json:"buildType"`
	Builder    Builder    `json:"builder"`
	Invocation Invocation `json:"invocation"`
	Materials  []Material `json:"materials"`
	Metadata   Metadata   `json:"metadata"`
}

// Builder identifies who produced the artifact.
type Builder struct {
	ID string `json:"id"`
}

// Invocation records the parameters the build ran with.
type Invocation struct {
	Parameters map[string]string `json:"parameters"`
}

// Material is an input to the build. Patches list none.
type Material struct {
	URI    string            `json:"uri"`
	Digest map[string]string `json:"digest"`
}

// Metadata records build timing and completeness claims.
type Metadata struct {
	BuildStartedOn string       `json:"buildStartedOn"`
	Completeness   Completeness `json:"completeness"`
	Reproducible   bool         `json:"reproducible"`
}

// Completeness states which parts of the provenance are complete.
type Completeness struct {
	Parameters  bool `json:"parameters"`
	Environment bool `json:"environment"`
	Materials   bool `json:"materials"`
}

func buildAttestation(patchName, patchHash, builder, task, startedOn string) Attestation {
	return Attestation{
		Type:          StatementType,
		PredicateType: PredicateType,
		Subject: []Subject{{
			Name:   patchName,
			Digest: map[string]string{"sha256": patchHash},
		}},
		Predicate: Predicate{
			BuildType: BuildType,
			Builder:   Builder{ID: builder},
			Invocation: Invocation{
				Parameters: map[string]string{"task": task},
			},
			Materials: []Material{},
			Metadata: Metadata{
				BuildStartedOn: startedOn,
				Completeness:   Completeness{Parameters: true},
				Reproducible:   false,
			},
		},
	}
}
