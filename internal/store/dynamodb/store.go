// Package dynamodb implements the key-value store on a DynamoDB table with a
// string partition key.
package dynamodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrKey        = "key"
	attrValue      = "value"
	attrCompressed = "value_gz"
	attrChunks     = "chunks"

	// inlineLimit keeps each item below DynamoDB's 400 KB item cap with room
	// for the key and attribute names.
	inlineLimit = 350 * 1024
)

// Config names the table.
type Config struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store implements monitor.Store on DynamoDB items.
type Store struct {
	client API
	table  string
}

// New wraps client for table.
func New(client API, table string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if table == "" {
		return nil, fmt.Errorf("store.dynamodb.table is required")
	}
	return &Store{client: client, table: table}, nil
}

// Get reads the item for key with a consistent read.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	item, found, err := s.getItem(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	if attr, ok := item[attrValue].(*types.AttributeValueMemberS); ok {
		return attr.Value, true, nil
	}
	if attr, ok := item[attrCompressed].(*types.AttributeValueMemberB); ok {
		value, err := gunzip(attr.Value)
		if err != nil {
			return "", false, fmt.Errorf("item %s: %w", key, err)
		}
		return value, true, nil
	}
	if attr, ok := item[attrChunks].(*types.AttributeValueMemberN); ok {
		value, err := s.getChunked(ctx, key, attr.Value)
		if err != nil {
			return "", false, err
		}
		return value, true, nil
	}
	return "", false, fmt.Errorf("item %s has no %q attribute", key, attrValue)
}

// Set puts the item for key, replacing any previous value. Values over
// inlineLimit are gzipped; compressed values still over the limit are split
// across chunk items written before the item that references them.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if len(value) <= inlineLimit {
		return s.putItem(ctx, key, map[string]types.AttributeValue{
			attrValue: &types.AttributeValueMemberS{Value: value},
		})
	}
	data, err := gzipString(value)
	if err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	if len(data) <= inlineLimit {
		return s.putItem(ctx, key, map[string]types.AttributeValue{
			attrCompressed: &types.AttributeValueMemberB{Value: data},
		})
	}
	chunks := (len(data) + inlineLimit - 1) / inlineLimit
	for i := 0; i < chunks; i++ {
		end := min((i+1)*inlineLimit, len(data))
		err := s.putItem(ctx, chunkKey(key, i), map[string]types.AttributeValue{
			attrCompressed: &types.AttributeValueMemberB{Value: data[i*inlineLimit : end]},
		})
		if err != nil {
			return err
		}
	}
	return s.putItem(ctx, key, map[string]types.AttributeValue{
		attrChunks: &types.AttributeValueMemberN{Value: strconv.Itoa(chunks)},
	})
}

func (s *Store) getChunked(ctx context.Context, key, count string) (string, error) {
	chunks, err := strconv.Atoi(count)
	if err != nil || chunks <= 0 {
		return "", fmt.Errorf("item %s has invalid chunk count %q", key, count)
	}
	var buf bytes.Buffer
	for i := 0; i < chunks; i++ {
		item, found, err := s.getItem(ctx, chunkKey(key, i))
		if err != nil {
			return "", err
		}
		attr, ok := item[attrCompressed].(*types.AttributeValueMemberB)
		if !found || !ok {
			return "", fmt.Errorf("item %s is missing chunk %d", key, i)
		}
		buf.Write(attr.Value)
	}
	value, err := gunzip(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("item %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) getItem(ctx context.Context, key string) (map[string]types.AttributeValue, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get item %s from DynamoDB: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}
	return out.Item, true, nil
}

func (s *Store) putItem(ctx context.Context, key string, item map[string]types.AttributeValue) error {
	item[attrKey] = &types.AttributeValueMemberS{Value: key}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item %s in DynamoDB: %w", key, err)
	}
	return nil
}

func chunkKey(key string, i int) string {
	return key + "#chunk#" + strconv.Itoa(i)
}

func gzipString(value string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(gw, value); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) (string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gzip decode: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return "", fmt.Errorf("gzip decode: %w", err)
	}
	return string(out), nil
}

// Close is a no-op; the AWS client holds no resources needing release.
func (s *Store) Close() error { return nil }
