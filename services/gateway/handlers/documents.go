// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

var (
	chunkSize         = 1000
	chunkOverlap      = chunkSize / 10
	defaultSeparators = []string{"\n\n", "\n", " ", ""}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}

	// Sustainability reports arrive as CSV exports often enough that
	// row-preserving splits beat paragraph splits for them.
	csvSeparators = []string{"\n", ",", " ", ""}
)

// IngestDocumentRequest carries a document to chunk, embed, and index.
type IngestDocumentRequest struct {
	Content      string `json:"content"`
	Source       string `json:"source"`
	Title        string `json:"title"`
	DocumentType string `json:"document_type"`
}

type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type BatchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// CreateDocument handles POST /v1/documents. It is a thin wrapper
// around RunIngestion.
func CreateDocument(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Source) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content and source are required"})
			return
		}

		chunksCreated, err := RunIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("Ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Successfully processed document via API", "source", req.Source, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListDocuments handles GET /v1/documents, returning the unique set of
// ingested parent_source values.
func ListDocuments(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		agg, err := client.GraphQL().Aggregate().
			WithClassName("Document").
			WithGroupBy("parent_source").
			Do(c.Request.Context())

		if err != nil {
			slog.Error("Failed to aggregate documents from Weaviate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query documents"})
			return
		}

		docList := parseParentSources(agg.Data)

		c.JSON(http.StatusOK, gin.H{"documents": docList})
	}
}

// parseParentSources walks the nested Aggregate response shape,
// tolerating missing or malformed levels.
func parseParentSources(data map[string]models.JSONObject) []string {
	var docList []string

	aggMap, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return docList
	}
	docGroups, ok := aggMap["Document"].([]interface{})
	if !ok {
		return docList
	}

	for _, groupItem := range docGroups {
		groupMap, ok := groupItem.(map[string]interface{})
		if !ok {
			continue
		}
		groupedByMap, ok := groupMap["groupedBy"].(map[string]interface{})
		if !ok {
			continue
		}
		if sourceName, ok := groupedByMap["value"].(string); ok {
			docList = append(docList, sourceName)
		}
	}

	return docList
}

// RunIngestion splits a document, embeds the chunks via the embedding
// sidecar, and batch-imports them into Weaviate.
//
// Chunk IDs are derived from the chunk content hash, so re-ingesting
// the same document overwrites rather than duplicates.
func RunIngestion(ctx context.Context, client *weaviate.Client, req IngestDocumentRequest) (int, error) {
	embeddingServiceBaseURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingServiceBaseURL == "" {
		slog.Error("EMBEDDING_SERVICE_URL not set for gateway")
		return 0, fmt.Errorf("embedding service not configured")
	}
	batchEmbeddingURL := strings.TrimSuffix(embeddingServiceBaseURL, "/embed") + "/batch_embed"
	slog.Info("Ingestion request received", "source", req.Source)

	splitter := getSplitterForFile(req.Source)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		slog.Error("Failed to split text", "source", req.Source, "error", err)
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}
	slog.Info("Split document into chunks", "source", req.Source, "chunk_count", len(chunks))

	vectors, err := callBatchEmbed(ctx, batchEmbeddingURL, chunks)
	if err != nil {
		slog.Error("Failed to get batch embeddings", "source", req.Source, "error", err)
		return 0, err
	}
	if len(vectors) != len(chunks) {
		slog.Error("Mismatch between chunk count and vector count", "chunks", len(chunks), "vectors", len(vectors))
		return 0, fmt.Errorf("embedding service returned mismatched vector count")
	}

	title := req.Title
	if title == "" {
		title = req.Source
	}
	docType := req.DocumentType
	if docType == "" {
		docType = "report"
	}

	batcher := client.Batch().ObjectsBatcher()
	objects := make([]*models.Object, len(chunks))

	for i, chunk := range chunks {
		chunkSource := fmt.Sprintf("%s_part_%d", req.Source, i+1)
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  "Document",
			ID:     strfmt.UUID(docUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":       chunk,
				"title":         title,
				"source":        chunkSource,
				"parent_source": req.Source,
				"document_type": docType,
				"ingested_at":   time.Now().UnixMilli(),
			},
		}
	}

	batcher.WithObjects(objects...)

	resp, err := batcher.Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	chunksCreated := 0
	hasErrors := false
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		hasErrors = true
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "source", req.Source, "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "source", req.Source)
		}
	}

	if hasErrors {
		slog.Warn("Errors encountered during Weaviate batch import", "source", req.Source, "successful_chunks", chunksCreated)
	}

	slog.Info("Successfully processed document", "source", req.Source, "chunks_processed", chunksCreated)

	return chunksCreated, nil
}

func callBatchEmbed(ctx context.Context, batchEmbedURL string, chunks []string) ([][]float32, error) {
	reqBody := BatchEmbeddingRequest{Texts: chunks}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, batchEmbedURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Longer timeout for batch processing of large documents.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call /batch_embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read /batch_embed response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/batch_embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp BatchEmbeddingResponse
	if err = json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}

	return batchResp.Vectors, nil
}

func getSplitterForFile(filename string) textsplitter.TextSplitter {
	switch filepath.Ext(filename) {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)

	case ".csv":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(csvSeparators),
		)

	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}
