// Package loader loads FHIR StructureDefinitions and terminology resources
// and converts them to the internal service models used by the exporter.
//
// The loader bridges the gap between the full FHIR R4 models and the
// simplified schema model the materialization engine works against.
//
// Key components:
//   - R4Converter: converts r4.StructureDefinition to service.StructureDefinition
//   - ProfileStore: in-memory service.ProfileResolver with an element index cache
//   - PackageLoader: loads FHIR package directories into profile and terminology stores
//
// Example usage:
//
//	store := loader.NewProfileStore(256)
//	if _, err := store.LoadDirectory("./definitions"); err != nil {
//		log.Fatal(err)
//	}
//
//	sd, err := store.FetchStructureDefinition(ctx, "MyPatientProfile")
//	idx := store.Index(sd)
package loader
