package plan

import "github.com/titleworks/lientrack/pkg/models"

// Built-in templates for the three core title-processing workflows. Custom
// deployments can override them with higher-versioned template files.
func builtinTemplates() []*models.WorkflowTemplate {
	return []*models.WorkflowTemplate{
		{
			WorkflowType:      "document_processing",
			Version:           1,
			BusinessHoursOnly: false,
			Tasks: []models.TaskBlueprint{
				{
					TaskType:        "document_intake",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   1,
					DefaultSLAHours: 2,
					MaxRetries:      3,
					OutputKeys:      []string{"document_id", "document_kind", "page_count"},
				},
				{
					TaskType:        "data_extraction",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   2,
					DefaultSLAHours: 4,
					MaxRetries:      3,
					Dependencies:    []string{"document_intake"},
					OutputKeys:      []string{"parcel_number", "recorded_date", "instrument_number", "confidence"},
				},
				{
					TaskType:        "extraction_review",
					ExecutorKind:    models.ExecutorKindHuman,
					SequenceOrder:   3,
					DefaultSLAHours: 8,
					Dependencies:    []string{"data_extraction"},
					OutputKeys:      []string{"approved", "corrections_applied"},
				},
			},
		},
		{
			WorkflowType:      "lien_processing",
			Version:           1,
			BusinessHoursOnly: true,
			Tasks: []models.TaskBlueprint{
				{
					TaskType:        "lien_search",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   1,
					DefaultSLAHours: 8,
					MaxRetries:      2,
					OutputKeys:      []string{"liens_found", "search_scope"},
				},
				{
					TaskType:        "lien_verification",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   2,
					DefaultSLAHours: 8,
					MaxRetries:      2,
					Dependencies:    []string{"lien_search"},
					OutputKeys:      []string{"verified_count", "disputed_count"},
				},
				{
					TaskType:        "lien_review",
					ExecutorKind:    models.ExecutorKindHuman,
					SequenceOrder:   3,
					DefaultSLAHours: 16,
					Dependencies:    []string{"lien_verification"},
					OutputKeys:      []string{"cleared", "exceptions_noted"},
				},
				{
					TaskType:        "release_preparation",
					ExecutorKind:    models.ExecutorKindHuman,
					SequenceOrder:   4,
					DefaultSLAHours: 24,
					Dependencies:    []string{"lien_review"},
					OutputKeys:      []string{"release_document_id"},
				},
			},
		},
		{
			WorkflowType:      "payoff_processing",
			Version:           1,
			BusinessHoursOnly: true,
			Tasks: []models.TaskBlueprint{
				{
					TaskType:        "payoff_request",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   1,
					DefaultSLAHours: 4,
					MaxRetries:      3,
					OutputKeys:      []string{"lender_name", "loan_number"},
				},
				{
					TaskType:        "payoff_calculation",
					ExecutorKind:    models.ExecutorKindAI,
					SequenceOrder:   2,
					DefaultSLAHours: 8,
					MaxRetries:      2,
					Dependencies:    []string{"payoff_request"},
					OutputKeys:      []string{"payoff_amount", "per_diem", "good_through_date"},
				},
				{
					TaskType:        "payoff_validation",
					ExecutorKind:    models.ExecutorKindHuman,
					SequenceOrder:   3,
					DefaultSLAHours: 8,
					Dependencies:    []string{"payoff_calculation"},
					OutputKeys:      []string{"validated", "variance_notes"},
				},
			},
		},
	}
}
