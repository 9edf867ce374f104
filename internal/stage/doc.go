// Package stage defines the adapter contract between the pipeline and its
// external collaborators, plus a registry mapping each pipeline stage to an
// adapter. The stagetest subpackage provides a scriptable fake for tests.
package stage
