package processor

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
)

// contributionInputSuffix marks an input whose value is a contribution id
// to inline.
const contributionInputSuffix = "_contribution_id"

type AssembleRequest struct {
	Job     models.Job
	Payload *job.ExecutePayload
	Step    *recipe.Step
}

// Assembled is the prompt for one model call. ContinueFrom holds the text
// already generated when the job continues a truncated document.
type Assembled struct {
	Prompt       string
	ContinueFrom string
}

// PassthroughAssembler concatenates the job's inputs into a prompt. Inputs
// keyed *_contribution_id are replaced by the stored contribution content.
type PassthroughAssembler struct {
	Files FileManager
}

func (a PassthroughAssembler) Assemble(ctx context.Context, req AssembleRequest) (Assembled, error) {
	p := req.Payload
	if p == nil {
		return Assembled{}, fmt.Errorf("assemble: payload is nil")
	}

	var buf bytes.Buffer
	if p.PromptTemplateID != "" {
		fmt.Fprintf(&buf, "template: %s\n", p.PromptTemplateID)
	} else if req.Step != nil && req.Step.PromptTemplateID != "" {
		fmt.Fprintf(&buf, "template: %s\n", req.Step.PromptTemplateID)
	}
	fmt.Fprintf(&buf, "stage: %s\noutput: %s\n", req.Job.StageSlug, p.OutputType)

	keys := make([]string, 0, len(p.Inputs))
	for k := range p.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, ok := p.Inputs[k].(string)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if strings.HasSuffix(k, contributionInputSuffix) {
			if a.Files == nil {
				return Assembled{}, fmt.Errorf("assemble: input %s needs a file manager", k)
			}
			_, content, err := a.Files.LoadContribution(ctx, value)
			if err != nil {
				return Assembled{}, fmt.Errorf("assemble input %s: %w", k, err)
			}
			value = string(content)
			k = strings.TrimSuffix(k, contributionInputSuffix)
		}
		fmt.Fprintf(&buf, "\n## %s\n\n%s\n", k, value)
	}

	out := Assembled{Prompt: buf.String()}
	if root := strings.TrimSpace(p.TargetContributionID); root != "" {
		if a.Files == nil {
			return Assembled{}, fmt.Errorf("assemble: continuation needs a file manager")
		}
		_, chunks, err := a.Files.DocumentChunks(ctx, root)
		if err != nil {
			return Assembled{}, fmt.Errorf("assemble continuation of %s: %w", root, err)
		}
		out.ContinueFrom = string(bytes.Join(chunks, nil))
	}
	return out, nil
}
