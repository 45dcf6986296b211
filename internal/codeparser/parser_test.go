package codeparser

import "testing"

func TestExtractRESTCalls(t *testing.T) {
	content := "export function useUsers() {\n" +
		"  // fetch(`/api/v1/users`) in a comment should not match\n" +
		"  return axios.get(`/api/v1/users/${id}`);\n" +
		"}\n"

	calls := extractRESTCalls("users.ts", content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d: %+v", len(calls), calls)
	}
	if calls[0].EndpointPattern != "/api/v1/users/${id}" {
		t.Fatalf("unexpected endpoint pattern: %q", calls[0].EndpointPattern)
	}
}

func TestExtractGraphQLOpsNormalisedToPostGraphql(t *testing.T) {
	content := "import { gql } from '@apollo/client';\n" +
		"const GET_USER = gql`query GetUser { user { id } }`;\n"

	if !isGraphQLClient(content) {
		t.Fatalf("expected graphql client detected")
	}

	ops := extractGraphQLOps("user.ts", content)
	if len(ops) != 1 {
		t.Fatalf("expected 1 graphql op, got %d", len(ops))
	}
	if ops[0].Method != "POST" || ops[0].EndpointPattern != "/graphql" {
		t.Fatalf("expected normalised POST /graphql, got %+v", ops[0])
	}
}

func TestExtractImportsMixedDefaultAndNamed(t *testing.T) {
	content := `import React, { useState, useEffect } from 'react';`

	imports := extractImports(content)
	if len(imports) != 1 {
		t.Fatalf("expected 1 import, got %d: %+v", len(imports), imports)
	}
	if imports[0].Default != "React" || len(imports[0].Named) != 2 {
		t.Fatalf("unexpected mixed import: %+v", imports[0])
	}
}

func TestMissingArchiveProducesEmptyModel(t *testing.T) {
	model := Parse("")
	if model == nil || len(model.Components) != 0 || len(model.APICalls) != 0 {
		t.Fatalf("expected empty model for missing archive path, got %+v", model)
	}

	model = Parse("/nonexistent/archive.zip")
	if model == nil || len(model.Components) != 0 {
		t.Fatalf("expected empty model for malformed archive, got %+v", model)
	}
}
