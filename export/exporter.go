package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/assign"
	"github.com/gofhir/shorthand/cache"
	"github.com/gofhir/shorthand/fsh"
	"github.com/gofhir/shorthand/fshpath"
	"github.com/gofhir/shorthand/loader"
	"github.com/gofhir/shorthand/pkg/logger"
	"github.com/gofhir/shorthand/service"
	"github.com/gofhir/shorthand/specs"
	"github.com/gofhir/shorthand/terminology"
	"github.com/gofhir/shorthand/worker"
)

// Exporter materializes instances into documents. It is safe for
// concurrent use once configured; the Set* methods are not synchronized
// and belong in setup code, before the first export.
type Exporter struct {
	version shorthand.FHIRVersion
	options *shorthand.Options
	logger  *logger.Logger
	metrics *shorthand.Metrics

	profiles service.ProfileResolver
	entities service.EntityResolver
	codes    service.CodeSystemResolver

	indexes *cache.Cache[string, *service.ElementIndex]
}

// New creates an Exporter for the given FHIR version with the embedded
// core definitions loaded. Pass SetProfileResolver afterwards to export
// against a different definition set.
func New(ctx context.Context, version shorthand.FHIRVersion, opts ...shorthand.Option) (*Exporter, error) {
	if !version.IsValid() {
		return nil, fmt.Errorf("export: unsupported FHIR version %q", version)
	}
	options := shorthand.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	e := &Exporter{
		version: version,
		options: options,
		logger:  logger.Default(),
		metrics: shorthand.NewMetrics(),
		indexes: cache.New[string, *service.ElementIndex](options.StructureDefCacheSize),
	}

	profiles := loader.NewProfileStore(options.StructureDefCacheSize)
	codes := terminology.NewMemoryStore()
	stats, err := specs.Load(specs.FHIRVersion(version), profiles, codes)
	if err != nil {
		e.logger.Warn("embedded %s definitions unavailable: %v", version, err)
	} else {
		e.logger.Debug("loaded %d structure definitions and %d code systems for %s",
			stats.StructureDefinitions, stats.CodeSystems, version)
	}
	e.profiles = profiles
	e.codes = codes

	// Warm the indexes every document needs.
	for _, t := range []string{"Element", "Extension"} {
		if _, err := e.typeIndex(ctx, t); err != nil {
			e.logger.Debug("no definition for %s: %v", t, err)
		}
	}
	return e, nil
}

// SetProfileResolver replaces the structure definition source. Cached
// element indexes are dropped so stale shapes cannot leak across
// resolver changes.
func (e *Exporter) SetProfileResolver(r service.ProfileResolver) {
	e.profiles = r
	e.indexes.Clear()
}

// SetEntityResolver installs a resolver for entities defined outside the
// catalog, such as profiles and code systems from installed packages.
func (e *Exporter) SetEntityResolver(r service.EntityResolver) {
	e.entities = r
}

// SetCodeSystemResolver replaces the local code system source.
func (e *Exporter) SetCodeSystemResolver(r service.CodeSystemResolver) {
	e.codes = r
}

// SetLogger replaces the logger.
func (e *Exporter) SetLogger(l *logger.Logger) {
	if l != nil {
		e.logger = l
	}
}

// Version returns the FHIR version the exporter was created for.
func (e *Exporter) Version() shorthand.FHIRVersion {
	return e.version
}

// Options returns the active options.
func (e *Exporter) Options() *shorthand.Options {
	return e.options
}

// Metrics returns the exporter's metrics collector.
func (e *Exporter) Metrics() *shorthand.Metrics {
	return e.metrics
}

// run carries the per-document export state. A run lives on one
// goroutine; shared batch state stays behind the BatchContext.
type run struct {
	ex     *Exporter
	bctx   *BatchContext
	inst   *fsh.Instance
	result *shorthand.Result

	sd   *service.StructureDefinition
	idx  *service.ElementIndex
	root *assign.Node

	// stack is the chain of instance names being expanded, outermost
	// first, used to cut inline reference cycles.
	stack []string

	// contained maps an embedded instance name to the fragment id it
	// was contained under, so repeated references share one entry.
	contained map[string]string
}

// Export materializes a single instance outside any batch. Rule and
// schema problems are reported through the Result, not the error; the
// error is reserved for context cancellation.
func (e *Exporter) Export(ctx context.Context, inst *fsh.Instance) (*shorthand.Document, *shorthand.Result, error) {
	doc, res := e.ExportInstance(ctx, inst, NewBatchContext(nil))
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}
	return doc, res, nil
}

// ExportInstance materializes one instance within a batch. The batch
// context supplies the catalog for alias, rule set, and reference
// resolution and deduplicates document ids across calls.
func (e *Exporter) ExportInstance(ctx context.Context, inst *fsh.Instance, bctx *BatchContext) (*shorthand.Document, *shorthand.Result) {
	if inst == nil {
		res := e.acquireResult()
		res.Add(shorthand.Fatal(shorthand.CodeMissingDefinition).Message("no instance to export").Build())
		return nil, res
	}
	return e.exportWithStack(ctx, inst, bctx, []string{inst.Name}, true)
}

// exportWithStack is the export pipeline. The stack seeds inline cycle
// detection; register controls whether the finished document claims its
// id immediately (single exports) or later in catalog order (batches).
func (e *Exporter) exportWithStack(ctx context.Context, inst *fsh.Instance, bctx *BatchContext, stack []string, register bool) (doc *shorthand.Document, result *shorthand.Result) {
	start := time.Now()
	result = e.acquireResult()
	result.Instance = inst.Name
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("export of %s panicked: %v", inst.Name, p)
			result.Add(shorthand.Fatal(shorthand.CodeExportFailed).
				Messagef("internal failure while exporting %q: %v", inst.Name, p).
				Instance(inst.Name).Build())
			doc = nil
			e.metrics.RecordExport(time.Since(start), false)
		}
	}()
	if bctx == nil {
		bctx = NewBatchContext(nil)
	}

	sd, err := e.fetchSchema(ctx, bctx.Catalog(), inst.InstanceOf)
	if err != nil {
		result.Add(shorthand.Fatal(shorthand.CodeMissingDefinition).
			Messagef("cannot resolve %q, the declared type of %s", inst.InstanceOf, inst.Name).
			Instance(inst.Name).Build())
		e.metrics.RecordExport(time.Since(start), false)
		return nil, result
	}
	result.ResourceType = sd.Type

	r := &run{
		ex:        e,
		bctx:      bctx,
		inst:      inst,
		result:    result,
		sd:        sd,
		idx:       e.elementIndex(sd),
		root:      assign.NewNode(),
		stack:     stack,
		contained: make(map[string]string),
	}
	r.seedHeader(ctx)

	mark := time.Now()
	rules, carets := Linearize(inst, bctx.Catalog(), result)
	e.metrics.RecordStage("linearize", time.Since(mark))

	mark = time.Now()
	if err := r.fold(ctx, rules); err != nil {
		// Cancelled mid-document; the partial tree is not a document.
		e.metrics.RecordExport(time.Since(start), false)
		return nil, result
	}
	r.applyCarets(ctx, carets)
	e.metrics.RecordStage("assign", time.Since(mark))

	mark = time.Now()
	for _, c := range assign.Populate(r.root, sd, r.idx, r.elementPos(ctx)) {
		result.Add(shorthand.Error(shorthand.CodeValueConflict).
			Messagef("value %v at %s conflicts with the fixed value %v required by %s",
				c.Existing, c.Path, c.Incoming, sd.Name).
			At(c.Path).Build())
	}
	e.metrics.RecordStage("populate", time.Since(mark))

	id := r.seedID()

	mark = time.Now()
	r.sweepCardinality(ctx)
	e.metrics.RecordStage("cardinality", time.Since(mark))

	if e.options.StrictMode && result.HasWarnings() {
		result.Valid = false
	}
	doc = &shorthand.Document{
		Name:         inst.Name,
		ResourceType: sd.Type,
		ID:           id,
		Usage:        inst.Usage,
		Tree:         r.root,
	}
	if register {
		bctx.registerDocument(doc, result)
	}
	e.metrics.RecordExport(time.Since(start), result.Valid)
	e.logger.Debug("exported %s as %s in %s (%d diagnostics)",
		inst.Name, sd.Type, time.Since(start).Round(time.Microsecond), len(result.Diagnostics))
	return doc, result
}

// BatchResult holds one catalog export: finished documents and the
// per-instance results, both in catalog order. Inline instances get no
// standalone document and contribute no slot of their own.
type BatchResult struct {
	Documents []*shorthand.Document
	Results   []*shorthand.Result
}

// HasErrors reports whether any instance produced an error diagnostic.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r.HasErrors() {
			return true
		}
	}
	return false
}

// Document returns the finished document for an instance name, nil when
// the instance failed or does not exist.
func (br *BatchResult) Document(name string) *shorthand.Document {
	for _, d := range br.Documents {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// ExportBatch materializes every non-inline instance of the catalog.
// Documents are exported in parallel per Options.WorkerCount, while the
// returned slices and id registration follow catalog order, so repeated
// runs over the same catalog report identically. The error is reserved
// for cancellation; per-instance problems land in the results.
func (e *Exporter) ExportBatch(ctx context.Context, catalog *fsh.Catalog) (*BatchResult, error) {
	if catalog == nil {
		return nil, fmt.Errorf("export: nil catalog")
	}
	bctx := NewBatchContext(catalog)

	var targets []*fsh.Instance
	for _, inst := range catalog.Instances() {
		if inst.Usage != fsh.UsageInline {
			targets = append(targets, inst)
		}
	}

	be := worker.NewBatchExporter(e.options.WorkerCount, func(ctx context.Context, inst *fsh.Instance) (*shorthand.Document, *shorthand.Result, error) {
		doc, res := e.exportWithStack(ctx, inst, bctx, []string{inst.Name}, false)
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		return doc, res, nil
	})
	jobs, err := be.ExportAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	br := &BatchResult{
		Documents: make([]*shorthand.Document, 0, len(jobs)),
		Results:   make([]*shorthand.Result, 0, len(jobs)),
	}
	for _, jr := range jobs {
		if jr.Err != nil {
			return nil, jr.Err
		}
		if jr.Result != nil {
			jr.Result.JobID = jr.JobID
			br.Results = append(br.Results, jr.Result)
		}
		bctx.registerDocument(jr.Document, jr.Result)
		if jr.Document != nil {
			br.Documents = append(br.Documents, jr.Document)
		}
	}
	e.logger.Info("exported %d of %d instances (%d inline skipped)",
		len(br.Documents), len(targets), len(catalog.Instances())-len(targets))
	return br, nil
}

func (e *Exporter) acquireResult() *shorthand.Result {
	if e.options.EnablePooling {
		e.metrics.RecordPoolAcquire()
		return shorthand.AcquireResult()
	}
	return shorthand.NewResult()
}

// fetchSchema resolves an instance's declared type: alias expansion
// first, then by name, id, or URL, then by bare FHIR type name.
func (e *Exporter) fetchSchema(ctx context.Context, catalog *fsh.Catalog, ref string) (*service.StructureDefinition, error) {
	if e.profiles == nil {
		return nil, fmt.Errorf("export: no profile resolver configured")
	}
	name, _ := fsh.SplitVersion(catalog.ResolveAlias(ref))
	sd, err := e.profiles.FetchStructureDefinition(ctx, name)
	if err == nil {
		return sd, nil
	}
	if sd, byType := e.profiles.FetchStructureDefinitionByType(ctx, name); byType == nil {
		return sd, nil
	}
	return nil, err
}

// elementIndex returns the cached element index for a definition,
// building it on first sight. Base definitions are additionally cached
// under their type name so typeIndex finds them without a fetch.
func (e *Exporter) elementIndex(sd *service.StructureDefinition) *service.ElementIndex {
	key := sd.URL
	if key == "" {
		key = sd.Type
	}
	if idx, ok := e.indexes.Get(key); ok {
		e.metrics.RecordCacheHit()
		return idx
	}
	e.metrics.RecordCacheMiss()
	idx := service.BuildElementIndex(sd)
	e.indexes.Set(key, idx)
	if sd.Type != "" && sd.Type != key && !sd.IsProfile() {
		e.indexes.Set(sd.Type, idx)
	}
	return idx
}

// typeIndex returns the element index for a bare FHIR type such as
// Quantity or Patient.
func (e *Exporter) typeIndex(ctx context.Context, typeCode string) (*service.ElementIndex, error) {
	if idx, ok := e.indexes.Get(typeCode); ok {
		e.metrics.RecordCacheHit()
		return idx, nil
	}
	if e.profiles == nil {
		return nil, fmt.Errorf("export: no profile resolver configured")
	}
	sd, err := e.profiles.FetchStructureDefinitionByType(ctx, typeCode)
	if err != nil {
		sd, err = e.profiles.FetchStructureDefinition(ctx, typeCode)
		if err != nil {
			return nil, err
		}
	}
	return e.elementIndex(sd), nil
}

// seedHeader writes the rows every resource document opens with: the
// resourceType marker and, for profiled instances, the meta.profile
// claim.
func (r *run) seedHeader(ctx context.Context) {
	if !r.sd.IsResource() {
		return
	}
	r.root.EnsureChild("resourceType", assign.PosFirst).SetValue(r.sd.Type)

	if !r.ex.options.SetMetaProfile || !r.sd.IsProfile() || r.sd.URL == "" {
		return
	}
	rootKey := r.idx.Root().Path
	meta := r.root.EnsureChild("meta", posForChild(r.idx, rootKey, "meta"))
	posFn := r.ex.contentPos(ctx, r.idx, rootKey+".meta", "Meta")
	profile := meta.EnsureChild("profile", posFn("profile"))
	profile.EnsureItem(0).SetValue(r.sd.URL)
	profile.Touch(0)
}

// fold applies the linearized rules in declaration order. It stops
// early when the context is cancelled or the error limit is reached.
func (r *run) fold(ctx context.Context, rules []fsh.Rule) error {
	max := r.ex.options.MaxErrors
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if max > 0 && r.result.ErrorCount() >= max {
			r.result.Add(shorthand.Warning(shorthand.CodeRuleDropped).
				Messagef("error limit of %d reached; %d remaining rules skipped", max, len(rules)-i).
				Build())
			break
		}
		switch rule := rule.(type) {
		case *fsh.AssignmentRule:
			r.applyAssignment(ctx, rule)
		case *fsh.PathRule:
			r.applyPath(ctx, rule)
		}
	}
	return nil
}

func (r *run) applyAssignment(ctx context.Context, rule *fsh.AssignmentRule) {
	path, err := fshpath.Parse(rule.Path)
	if err != nil {
		r.result.Add(shorthand.Error(shorthand.CodeMalformedPath).
			Messagef("%v", err).Rule(rule).Build())
		r.ex.metrics.RecordRuleFailed()
		return
	}
	cur, ok := r.walk(ctx, path, rule)
	if !ok {
		r.ex.metrics.RecordRuleFailed()
		return
	}

	if ref, isRef := rule.Value.(fsh.InstanceRef); isRef {
		if !r.assignInline(ctx, cur, ref, rule) {
			r.ex.metrics.RecordRuleFailed()
			return
		}
		r.ex.metrics.RecordRuleApplied()
		return
	}

	v, ok := r.coerce(ctx, cur, rule)
	if !ok {
		r.ex.metrics.RecordRuleFailed()
		return
	}
	posFn := r.ex.contentPos(ctx, cur.idx, cur.key, cur.typeCode)
	if c := assign.MergeValue(cur.node, v, posFn); c != nil {
		at := conflictPath(cur.describe(), c.Path)
		r.result.Add(shorthand.Error(shorthand.CodeValueConflict).
			Messagef("cannot assign %v to %s: it already holds %v", c.Incoming, at, c.Existing).
			Rule(rule).At(at).Build())
		r.ex.metrics.RecordRuleFailed()
		return
	}
	if rule.Exactly {
		cur.node.MarkExact()
	}
	r.ex.metrics.RecordRuleApplied()
}

// applyPath materializes a path without assigning a value. The schema's
// fixed and pattern content still lands on every element it touches.
func (r *run) applyPath(ctx context.Context, rule *fsh.PathRule) {
	path, err := fshpath.Parse(rule.Path)
	if err != nil {
		r.result.Add(shorthand.Error(shorthand.CodeMalformedPath).
			Messagef("%v", err).Rule(rule).Build())
		r.ex.metrics.RecordRuleFailed()
		return
	}
	if _, ok := r.walk(ctx, path, rule); !ok {
		r.ex.metrics.RecordRuleFailed()
		return
	}
	r.ex.metrics.RecordRuleApplied()
}

// caretDocumentFields are the metadata targets that belong to the
// document itself rather than its (absent) definition. Definition-usage
// instances accept any root metadata path instead.
var caretDocumentFields = map[string]bool{
	"id":            true,
	"meta":          true,
	"implicitRules": true,
	"language":      true,
	"text":          true,
}

// applyCarets runs after the regular rules so metadata lands on a
// finished tree and id sanitation sees the final value.
func (r *run) applyCarets(ctx context.Context, carets []*fsh.CaretRule) {
	for _, c := range carets {
		head := c.Caret
		if i := strings.IndexAny(head, ".["); i >= 0 {
			head = head[:i]
		}
		if r.inst.Usage != fsh.UsageDefinition && !caretDocumentFields[head] {
			r.result.Add(shorthand.Warning(shorthand.CodeRuleDropped).
				Messagef("metadata rule ^%s does not carry into a document; dropped", c.Caret).
				Rule(c).Build())
			continue
		}
		r.applyAssignment(ctx, &fsh.AssignmentRule{
			RuleBase: c.RuleBase,
			Path:     c.Caret,
			Value:    c.Value,
		})
	}
}

// elementPos adapts contentPos for Populate, which orders the fixed and
// pattern content of elements the rules never touched.
func (r *run) elementPos(ctx context.Context) assign.ElementPosFunc {
	return func(elem *service.ElementDefinition) assign.PosFunc {
		return r.ex.contentPos(ctx, r.idx, elem.Path, elem.TypeCode())
	}
}

// seedID settles the document id: a rule-assigned id is sanitized in
// place, otherwise non-inline documents default to the instance name.
// Data type documents carry no id.
func (r *run) seedID() string {
	if !r.sd.IsResource() {
		return ""
	}
	if idNode := r.root.Child("id"); idNode != nil && idNode.HasValue() {
		raw, _ := idNode.Value().(string)
		clean, changed := SanitizeID(raw)
		if changed {
			r.result.Add(shorthand.Warning(shorthand.CodeInvalidID).
				Messagef("id %q is not a valid document id; using %q", raw, clean).
				At("id").Build())
			idNode.SetValue(clean)
		}
		return clean
	}
	if r.inst.Usage == fsh.UsageInline {
		return ""
	}
	clean, changed := SanitizeID(r.inst.Name)
	if changed {
		r.result.Add(shorthand.Warning(shorthand.CodeInvalidID).
			Messagef("instance name %q is not a valid document id; using %q", r.inst.Name, clean).
			At("id").Build())
	}
	r.root.EnsureChild("id", posForChild(r.idx, r.idx.Root().Path, "id")).SetValue(clean)
	return clean
}
