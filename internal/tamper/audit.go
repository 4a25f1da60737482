package tamper

import (
	"context"

	"residuechain/internal/sample"
)

// SampleAuditor adapts the Writer to the sample coordinator's audit
// contract.
type SampleAuditor struct {
	writer *Writer
}

func NewSampleAuditor(writer *Writer) *SampleAuditor {
	return &SampleAuditor{writer: writer}
}

func (a *SampleAuditor) RecordRequestTransition(ctx context.Context, req sample.SampleRequest) error {
	_, err := a.writer.Append(ctx, EntitySampleRequest, req.ID.String(), CanonicalSampleRequest(req))
	return err
}

func (a *SampleAuditor) RecordReport(ctx context.Context, r sample.LabReport) error {
	_, err := a.writer.Append(ctx, EntityLabReport, r.ID.String(), CanonicalLabReport(r))
	return err
}
