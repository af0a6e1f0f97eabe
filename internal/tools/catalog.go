package tools

// NewCatalog builds the registry of every named tool from spec §6, closed
// over deps. writable controls whether write tools are registered at all
// (the agent omits them entirely in a DM, per §4.2).
func NewCatalog(deps *Deps, writable bool) *Registry {
	r := NewRegistry()

	r.Register(&ReadContractTool{deps})
	r.Register(&ReadDraftTool{deps})
	r.Register(&ReadDiscussionTool{deps})
	r.Register(&ReadGovernancePolicyTool{deps})
	r.Register(&ReadRolesTool{deps})
	r.Register(&ValidateContractTool{deps})
	r.Register(&CheckApprovalTool{deps})
	r.Register(&DiffContractTool{deps})
	r.Register(&ListContractsTool{deps})
	r.Register(&GenerateContractTemplateTool{deps})
	r.Register(&ParticipantStatsTool{deps})

	if !writable {
		return r
	}

	r.Register(&SaveDraftTool{deps})
	r.Register(&SaveContractTool{deps})
	r.Register(&UpdateDiscussionTool{deps})
	r.Register(&AddReminderTool{deps})
	r.Register(&UpdateParticipantTool{deps})
	r.Register(&SaveDecisionTool{deps})
	r.Register(&AssignRoleTool{deps})
	r.Register(&SetContractStatusTool{deps})
	r.Register(&RequestApprovalTool{deps})
	r.Register(&ApproveContractTool{deps})
	r.Register(&CreatePollTool{deps})

	return r
}
